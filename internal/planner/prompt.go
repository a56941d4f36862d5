package planner

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"planloop/internal/monitor"
	"planloop/internal/tools"
)

const maxFixFileChars = 4000

// PlanPrompt asks the orchestrator for a plan.
func PlanPrompt(request, workspaceContext string) string {
	var b strings.Builder
	b.WriteString("# Plan Request\n\n")
	b.WriteString("You are the planner for an agent that edits files in a local workspace. ")
	b.WriteString("Write a plan that another model will turn into file operations.\n\n")
	b.WriteString("## Request\n")
	b.WriteString(request)
	b.WriteString("\n\n## Workspace Context\n")
	if strings.TrimSpace(workspaceContext) == "" {
		b.WriteString("No workspace context available.\n")
	} else {
		b.WriteString(workspaceContext)
		if !strings.HasSuffix(workspaceContext, "\n") {
			b.WriteString("\n")
		}
	}
	b.WriteString("\n## Plan Format\n")
	b.WriteString("- Use numbered steps, one file action per step.\n")
	b.WriteString("- Name every file to create or modify with its path relative to the workspace root.\n")
	b.WriteString("- Describe the functions, classes, endpoints or data each file needs.\n")
	b.WriteString("- Keep any name the request puts in double quotes exactly as written.\n")
	b.WriteString("- End with a \"Success Criteria:\" section listing checks as bullet points.\n")
	return b.String()
}

// ReplanRequest appends the failed tools of the previous attempt to the
// original request.
func ReplanRequest(request string, res monitor.Result) string {
	var b strings.Builder
	b.WriteString(request)
	b.WriteString("\n\nThe previous attempt failed")
	if res.ReplanReason != "" {
		fmt.Fprintf(&b, " (%s)", res.ReplanReason)
	}
	b.WriteString(". Failed tools:\n")
	for _, f := range res.FailedTools {
		fmt.Fprintf(&b, "- step %d %s: %s\n", f.Index+1, f.Tool, oneLine(f.Error))
	}
	b.WriteString("Plan again so these steps succeed, taking the current state of the workspace into account.\n")
	return b.String()
}

// ConversionPrompt asks the formatter model to turn a plan into tool calls.
func ConversionPrompt(plan, request string) string {
	var b strings.Builder
	b.WriteString("# Tool Call Conversion\n\n")
	b.WriteString("Convert the plan below into the exact sequence of tool calls that carries it out.\n\n")
	b.WriteString("## Available Tools\n")
	b.WriteString(tools.Describe())
	b.WriteString("\n## Request\n")
	b.WriteString(request)
	b.WriteString("\n\n## Plan\n")
	b.WriteString(plan)
	b.WriteString("\n\n## Required Output\n")
	b.WriteString("Reply with a single ```yaml fenced block holding a list. Each entry has `tool` and `params`, for example:\n\n")
	b.WriteString("```yaml\n- tool: create_file\n  params:\n    path: src/app.py\n    content: |\n      print(\"hello\")\n```\n\n")
	b.WriteString("Write complete file contents. Paths are relative to the workspace root.\n")
	return b.String()
}

// QuickFixPrompt asks the coder model for one substitute tool call.
// fileContent is the current content of the target file, if any.
func QuickFixPrompt(request string, call tools.ToolCall, out tools.Outcome, v tools.Verification, fileContent string) string {
	var b strings.Builder
	b.WriteString("# Quick Fix\n\n")
	b.WriteString("A tool call failed verification. Reply with exactly one corrected tool call.\n\n")
	b.WriteString("## Request\n")
	b.WriteString(request)
	b.WriteString("\n\n## Failed Call\n```json\n")
	if data, err := json.MarshalIndent(call, "", "  "); err == nil {
		b.Write(data)
	} else {
		b.WriteString(call.String())
	}
	b.WriteString("\n```\n\n")
	if out.Error != "" {
		fmt.Fprintf(&b, "Error: %s\n", out.Error)
	}
	if v.Issues != "" {
		fmt.Fprintf(&b, "Verification issue: %s\n", v.Issues)
	}
	if v.Suggestion != "" {
		fmt.Fprintf(&b, "Suggestion: %s\n", v.Suggestion)
	}
	if fileContent != "" {
		if len(fileContent) > maxFixFileChars {
			fileContent = fileContent[:maxFixFileChars]
		}
		fmt.Fprintf(&b, "\n## Current Content of %s\n```\n%s\n```\n", call.Path(), fileContent)
	}
	b.WriteString("\n## Available Tools\n")
	b.WriteString(tools.Describe())
	b.WriteString("\nReply with a single ```yaml fenced block containing one entry with `tool` and `params`.\n")
	return b.String()
}

var (
	criteriaHeader = regexp.MustCompile(`(?im)^\s*(?:#{1,6}\s*)?\**success criteria\**\s*:?\**\s*$`)
	listItem       = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s+(.+)$`)
)

// SuccessCriteria returns the list items under a "Success Criteria:" header.
// The section ends at the first blank line after an item or another header.
func SuccessCriteria(plan string) []string {
	loc := criteriaHeader.FindStringIndex(plan)
	if loc == nil {
		return nil
	}
	var out []string
	for _, line := range strings.Split(plan[loc[1]:], "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			if len(out) > 0 {
				break
			}
			continue
		}
		m := listItem.FindStringSubmatch(line)
		if m == nil {
			break
		}
		out = append(out, strings.TrimSpace(m[1]))
	}
	return out
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
