package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/seanchatmangpt/wrkflo/pkg/schema"
)

var outputKeyPattern = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)

const (
	successActionsPrefix = "$components.successActions."
	failureActionsPrefix = "$components.failureActions."
	parametersPrefix     = "$components.parameters."
)

// validateSemantic checks what the structural schema cannot: identifier
// uniqueness, step targets and cross references.
func validateSemantic(doc *schema.Document) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	sources := make(map[string]bool, len(doc.SourceDescriptions))
	for i, sd := range doc.SourceDescriptions {
		if sources[sd.Name] {
			result.AddErrorf(fmt.Sprintf("sourceDescriptions[%d].name", i), schema.ErrCodeValidation,
				"duplicate source description name %q", sd.Name)
		}
		sources[sd.Name] = true
	}

	workflows := make(map[string]bool, len(doc.Workflows))
	for i := range doc.Workflows {
		id := doc.Workflows[i].WorkflowID
		if workflows[id] {
			result.AddErrorf(fmt.Sprintf("workflows[%d].workflowId", i), schema.ErrCodeValidation,
				"duplicate workflow id %q", id)
		}
		workflows[id] = true
	}

	for i := range doc.Workflows {
		validateWorkflow(doc, &doc.Workflows[i], fmt.Sprintf("workflows[%d]", i), workflows, result)
	}

	if doc.Components != nil {
		for name, a := range doc.Components.SuccessActions {
			validateComponentAction(a, "components.successActions."+name, result)
		}
		for name, a := range doc.Components.FailureActions {
			validateComponentAction(a, "components.failureActions."+name, result)
		}
	}
	return result
}

func validateWorkflow(doc *schema.Document, wf *schema.Workflow, path string, workflows map[string]bool, result *schema.ValidationResult) {
	stepIDs := make(map[string]bool, len(wf.Steps))
	for j, s := range wf.Steps {
		if stepIDs[s.StepID] {
			result.AddErrorf(fmt.Sprintf("%s.steps[%d].stepId", path, j), schema.ErrCodeValidation,
				"duplicate step id %q", s.StepID)
		}
		stepIDs[s.StepID] = true
	}

	validateOutputKeys(wf.Outputs, path+".outputs", result)

	for j := range wf.Steps {
		step := &wf.Steps[j]
		sp := fmt.Sprintf("%s.steps[%d]", path, j)

		switch targets := step.Targets(); len(targets) {
		case 0:
			result.AddError(sp, schema.ErrCodeValidation,
				"step must set exactly one of operationId, operationPath, workflowId")
		case 1:
			if targets[0] == schema.TargetWorkflowID && !workflows[step.WorkflowID] {
				result.AddErrorf(sp+".workflowId", schema.ErrCodeValidation,
					"references non-existent workflow %q", step.WorkflowID)
			}
		default:
			result.AddErrorf(sp, schema.ErrCodeValidation,
				"step sets %d targets, exactly one of operationId, operationPath, workflowId is allowed", len(targets))
		}

		for k, p := range step.Parameters {
			pp := fmt.Sprintf("%s.parameters[%d]", sp, k)
			if p.Reference != "" {
				if !componentExists(doc, p.Reference) {
					result.AddErrorf(pp+".reference", schema.ErrCodeValidation,
						"unresolvable parameter reference %q", p.Reference)
				}
				continue
			}
			if p.Name == "" {
				result.AddError(pp+".name", schema.ErrCodeValidation, "parameter requires a name")
			}
			if p.In == "" && step.WorkflowID == "" {
				result.AddWarning(pp+".in", schema.ErrCodeValidation,
					fmt.Sprintf("parameter %q has no location and will be ignored", p.Name))
			}
		}

		validateActions(doc, step.OnSuccess, sp+".onSuccess", successActionsPrefix, stepIDs, result)
		validateActions(doc, step.OnFailure, sp+".onFailure", failureActionsPrefix, stepIDs, result)
		validateOutputKeys(step.Outputs, sp+".outputs", result)
	}
}

func validateActions(doc *schema.Document, actions []schema.Action, path, prefix string, stepIDs map[string]bool, result *schema.ValidationResult) {
	for k, a := range actions {
		ap := fmt.Sprintf("%s[%d]", path, k)
		if a.Reference != "" {
			if !strings.HasPrefix(a.Reference, prefix) || !componentExists(doc, a.Reference) {
				result.AddErrorf(ap+".reference", schema.ErrCodeValidation,
					"unresolvable action reference %q", a.Reference)
			}
			continue
		}
		if a.Type == "" {
			result.AddError(ap+".type", schema.ErrCodeValidation, "action requires a type or a reference")
			continue
		}
		if schema.ActionKind(strings.ToLower(string(a.Type))) == schema.ActionGoto {
			switch {
			case a.StepID == "":
				result.AddError(ap+".stepId", schema.ErrCodeValidation, "goto action requires a stepId")
			case !stepIDs[a.StepID]:
				result.AddErrorf(ap+".stepId", schema.ErrCodeValidation,
					"goto target %q is not a step of this workflow", a.StepID)
			}
		}
	}
}

// validateComponentAction checks a reusable action in isolation. Goto targets
// are checked where the action is referenced, so only shape is checked here.
func validateComponentAction(a schema.Action, path string, result *schema.ValidationResult) {
	if a.Type == "" {
		result.AddError(path+".type", schema.ErrCodeValidation, "action requires a type")
	}
	if a.Reference != "" {
		result.AddError(path+".reference", schema.ErrCodeValidation, "component actions cannot reference other actions")
	}
	if schema.ActionKind(strings.ToLower(string(a.Type))) == schema.ActionGoto && a.StepID == "" {
		result.AddError(path+".stepId", schema.ErrCodeValidation, "goto action requires a stepId")
	}
}

func validateOutputKeys(outputs map[string]any, path string, result *schema.ValidationResult) {
	for key := range outputs {
		if !outputKeyPattern.MatchString(key) {
			result.AddErrorf(path+"."+key, schema.ErrCodeValidation,
				"output key %q must match %s", key, outputKeyPattern.String())
		}
	}
}

func componentExists(doc *schema.Document, ref string) bool {
	c := doc.Components
	if c == nil {
		return false
	}
	switch {
	case strings.HasPrefix(ref, successActionsPrefix):
		_, ok := c.SuccessActions[strings.TrimPrefix(ref, successActionsPrefix)]
		return ok
	case strings.HasPrefix(ref, failureActionsPrefix):
		_, ok := c.FailureActions[strings.TrimPrefix(ref, failureActionsPrefix)]
		return ok
	case strings.HasPrefix(ref, parametersPrefix):
		_, ok := c.Parameters[strings.TrimPrefix(ref, parametersPrefix)]
		return ok
	default:
		return false
	}
}
