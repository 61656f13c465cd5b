// Package service ties document loading, validation, execution and run
// history together for the CLI, HTTP API, MCP server and scheduler.
package service

import (
	"context"
	"log/slog"

	"github.com/seanchatmangpt/wrkflo/internal/engine"
	"github.com/seanchatmangpt/wrkflo/internal/expressions"
	"github.com/seanchatmangpt/wrkflo/internal/loader"
	"github.com/seanchatmangpt/wrkflo/internal/scheduler"
	"github.com/seanchatmangpt/wrkflo/internal/store"
	"github.com/seanchatmangpt/wrkflo/internal/transport"
	"github.com/seanchatmangpt/wrkflo/internal/validation"
	"github.com/seanchatmangpt/wrkflo/pkg/schema"
)

// Deps holds the collaborators of a Service. Store may be nil, which
// disables run history.
type Deps struct {
	Loader    *loader.Loader
	Validator validation.Validator
	Engine    engine.Engine
	Store     store.Store
	Logger    *slog.Logger
}

// EngineConfig returns an engine configuration that records run history in
// st when it is non-nil.
func EngineConfig(client transport.Client, st store.Store, maxSteps int, logger *slog.Logger) engine.Config {
	cfg := engine.Config{Client: client, MaxSteps: maxSteps, Logger: logger}
	if st != nil {
		cfg.Events = store.NewEventLog(st)
		cfg.Recorder = st
	}
	return cfg
}

// Service is the entry point every outer surface goes through.
type Service struct {
	loader    *loader.Loader
	validator validation.Validator
	engine    engine.Engine
	store     store.Store
	events    *store.EventLog
	jq        *expressions.JQFilter
	logger    *slog.Logger
}

var _ scheduler.Runner = (*Service)(nil)

// New creates a Service.
func New(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Loader == nil {
		deps.Loader = loader.New(nil, logger)
	}
	if deps.Validator == nil {
		deps.Validator = validation.NewDocumentValidator()
	}
	s := &Service{
		loader:    deps.Loader,
		validator: deps.Validator,
		engine:    deps.Engine,
		store:     deps.Store,
		jq:        expressions.NewJQFilter(),
		logger:    logger,
	}
	if deps.Store != nil {
		s.events = store.NewEventLog(deps.Store)
	}
	return s
}

// Load reads a document without validating it.
func (s *Service) Load(ctx context.Context, location string) (*schema.Document, error) {
	return s.loader.Load(ctx, location)
}

// Validate checks a parsed document.
func (s *Service) Validate(doc *schema.Document) *schema.ValidationResult {
	return s.validator.Validate(doc)
}

// ValidateFile loads and validates the document at location. The error
// return is reserved for documents that cannot be read or parsed.
func (s *Service) ValidateFile(ctx context.Context, location string) (*schema.ValidationResult, error) {
	doc, err := s.loader.Load(ctx, location)
	if err != nil {
		return nil, err
	}
	return s.validator.Validate(doc), nil
}

// ValidateBytes parses and validates a document held in memory.
func (s *Service) ValidateBytes(data []byte) (*schema.ValidationResult, error) {
	doc, err := loader.Parse(data)
	if err != nil {
		return nil, err
	}
	return s.validator.Validate(doc), nil
}

// RunFile loads the document at location and runs one of its workflows.
func (s *Service) RunFile(ctx context.Context, location, workflowID string, inputs map[string]any) (*engine.RunResult, error) {
	doc, err := s.loader.Load(ctx, location)
	if err != nil {
		return nil, err
	}
	return s.RunDocument(ctx, doc, location, workflowID, inputs)
}

// RunBytes parses an in-memory document and runs one of its workflows.
// Relative source description URLs resolve against the working directory.
func (s *Service) RunBytes(ctx context.Context, data []byte, workflowID string, inputs map[string]any) (*engine.RunResult, error) {
	doc, err := loader.Parse(data)
	if err != nil {
		return nil, err
	}
	return s.RunDocument(ctx, doc, "", workflowID, inputs)
}

// RunDocument validates doc, loads its OpenAPI sources relative to base and
// runs workflowID. An invalid document is rejected before any run is recorded.
func (s *Service) RunDocument(ctx context.Context, doc *schema.Document, base, workflowID string, inputs map[string]any) (*engine.RunResult, error) {
	if s.engine == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "no engine configured")
	}
	result := s.validator.Validate(doc)
	if !result.Valid() {
		return nil, result.ToError()
	}
	for _, w := range result.Warnings {
		s.logger.WarnContext(ctx, "document warning", "path", w.Path, "message", w.Message)
	}

	specs, _ := s.loader.LoadSources(ctx, doc, base)
	return s.engine.Run(ctx, doc, workflowID, inputs,
		engine.WithSources(specs),
		engine.WithDocumentPath(base),
	)
}

// Query reshapes v with a jq program. An empty program returns v unchanged.
func (s *Service) Query(ctx context.Context, program string, v any) (any, error) {
	if program == "" {
		return v, nil
	}
	return s.jq.Apply(ctx, program, v)
}

// ListRuns returns recorded runs, newest first.
func (s *Service) ListRuns(ctx context.Context, filter store.RunFilter) ([]*store.Run, error) {
	if err := s.historyEnabled(); err != nil {
		return nil, err
	}
	return s.store.ListRuns(ctx, filter)
}

// GetRun returns one recorded run.
func (s *Service) GetRun(ctx context.Context, id string) (*store.Run, error) {
	if err := s.historyEnabled(); err != nil {
		return nil, err
	}
	return s.store.GetRun(ctx, id)
}

// RunEvents returns a run's event log in sequence order.
func (s *Service) RunEvents(ctx context.Context, id string) ([]*store.Event, error) {
	if err := s.historyEnabled(); err != nil {
		return nil, err
	}
	if _, err := s.store.GetRun(ctx, id); err != nil {
		return nil, err
	}
	return s.events.GetEvents(ctx, id, 0)
}

// StepSummaries replays a run's event log into per-step summaries.
func (s *Service) StepSummaries(ctx context.Context, id string) (map[string]*store.StepSummary, error) {
	if err := s.historyEnabled(); err != nil {
		return nil, err
	}
	return s.events.ReplayEvents(ctx, id)
}

// Store returns the history store, nil when history is disabled.
func (s *Service) Store() store.Store {
	return s.store
}

func (s *Service) historyEnabled() error {
	if s.store == nil {
		return schema.NewError(schema.ErrCodeStore, "run history is disabled")
	}
	return nil
}
