package validation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/seanchatmangpt/wrkflo/pkg/schema"
)

// validateFlow performs graph analysis: nested workflow call cycles
// (Kahn's algorithm) and step reachability within each workflow (BFS from
// the first step).
func validateFlow(doc *schema.Document) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	result.Merge(validateCallGraph(doc))
	for i := range doc.Workflows {
		result.Merge(validateReachability(&doc.Workflows[i], fmt.Sprintf("workflows[%d]", i)))
	}
	return result
}

// validateCallGraph rejects workflows that reach themselves through
// workflowId steps; such runs would nest without bound.
func validateCallGraph(doc *schema.Document) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	ids := make(map[string]bool, len(doc.Workflows))
	for _, wf := range doc.Workflows {
		ids[wf.WorkflowID] = true
	}

	// calls[id] = workflows id invokes, callers[id] = workflows invoking id.
	calls := make(map[string][]string, len(ids))
	callers := make(map[string][]string, len(ids))
	for _, wf := range doc.Workflows {
		seen := make(map[string]bool)
		for _, s := range wf.Steps {
			if s.WorkflowID == "" || !ids[s.WorkflowID] || seen[s.WorkflowID] {
				continue // dangling references are reported by the semantic pass
			}
			seen[s.WorkflowID] = true
			calls[wf.WorkflowID] = append(calls[wf.WorkflowID], s.WorkflowID)
			callers[s.WorkflowID] = append(callers[s.WorkflowID], wf.WorkflowID)
		}
	}

	outDegree := make(map[string]int, len(ids))
	queue := make([]string, 0, len(ids))
	for id := range ids {
		outDegree[id] = len(calls[id])
		if outDegree[id] == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	visited := make(map[string]bool, len(ids))
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		visited[node] = true
		for _, caller := range callers[node] {
			outDegree[caller]--
			if outDegree[caller] == 0 {
				queue = append(queue, caller)
			}
		}
	}

	if len(visited) != len(ids) {
		var cyclic []string
		for id := range ids {
			if !visited[id] {
				cyclic = append(cyclic, id)
			}
		}
		sort.Strings(cyclic)
		result.AddErrorf("workflows", schema.ErrCodeCycleDetected,
			"nested workflow calls form a cycle through %s", strings.Join(cyclic, ", "))
	}
	return result
}

// validateReachability warns about steps no execution path can reach. A step
// falls through to the next one unless its first onSuccess action is an
// unconditional end or goto; goto actions add edges to their targets.
func validateReachability(wf *schema.Workflow, path string) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if len(wf.Steps) == 0 {
		return result
	}

	edges := make([][]int, len(wf.Steps))
	for i := range wf.Steps {
		step := &wf.Steps[i]
		if i+1 < len(wf.Steps) && !divertsOnSuccess(step.OnSuccess) {
			edges[i] = append(edges[i], i+1)
		}
		for _, list := range [][]schema.Action{step.OnSuccess, step.OnFailure} {
			for _, a := range list {
				if schema.ActionKind(strings.ToLower(string(a.Type))) != schema.ActionGoto {
					continue
				}
				if j := wf.StepIndex(a.StepID); j >= 0 {
					edges[i] = append(edges[i], j)
				}
			}
		}
	}

	reachable := make([]bool, len(wf.Steps))
	reachable[0] = true
	queue := []int{0}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		for _, next := range edges[node] {
			if !reachable[next] {
				reachable[next] = true
				queue = append(queue, next)
			}
		}
	}

	for i, ok := range reachable {
		if !ok {
			result.AddWarning(fmt.Sprintf("%s.steps[%d]", path, i), schema.ErrCodeValidation,
				fmt.Sprintf("step %q is unreachable", wf.Steps[i].StepID))
		}
	}
	return result
}

func divertsOnSuccess(actions []schema.Action) bool {
	if len(actions) == 0 || len(actions[0].Criteria) > 0 || actions[0].Reference != "" {
		return false
	}
	switch schema.ActionKind(strings.ToLower(string(actions[0].Type))) {
	case schema.ActionEnd, schema.ActionGoto:
		return true
	default:
		return false
	}
}
