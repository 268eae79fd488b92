package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/manifoldco/promptui"

	"github.com/gentoomaniac/unity-backup/pkg/creds"
	"github.com/gentoomaniac/unity-backup/pkg/db"
)

// PromptCredentials asks once for the Unisphere login used against every
// array in the run. The password prompt is masked; a cancelled prompt or an
// empty answer aborts the run before any target is touched.
func PromptCredentials() (*creds.Credential, error) {
	userPrompt := promptui.Prompt{
		Label: "Unisphere username",
		Validate: func(input string) error {
			if strings.TrimSpace(input) == "" {
				return errors.New("username must not be empty")
			}
			return nil
		},
	}
	username, err := userPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("username prompt: %w", err)
	}

	secretPrompt := promptui.Prompt{
		Label: "Unisphere password",
		Mask:  '*',
		Validate: func(input string) error {
			if input == "" {
				return errors.New("password must not be empty")
			}
			return nil
		},
	}
	secret, err := secretPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("password prompt: %w", err)
	}

	return creds.New(strings.TrimSpace(username), secret)
}

// Confirm asks a yes/no question. Declining or cancelling both come back
// false.
func Confirm(label string) bool {
	prompt := promptui.Prompt{
		Label:     label,
		IsConfirm: true,
	}
	if _, err := prompt.Run(); err != nil {
		return false
	}
	return true
}

// PromptRuns Create a prompt that will display recent runs for a user to select one
func PromptRuns(runs []*db.Run) (*db.Run, error) {
	if len(runs) == 1 {
		return runs[0], nil
	}

	runSearchFunc := func(input string, idx int) bool {
		run := runs[idx]

		return strings.Contains(strings.ToLower(run.ID), strings.ToLower(input))
	}

	size := len(runs)
	if size >= 10 {
		size = 10
	}

	selector := promptui.Select{
		Label:             "Select the run to inspect",
		Items:             runs,
		Searcher:          runSearchFunc,
		StartInSearchMode: true,
		HideSelected:      true,
		Size:              size,
		Templates: &promptui.SelectTemplates{
			Active:   fmt.Sprintf("%s {{ .ID | cyan }}", promptui.IconSelect),
			Inactive: " {{ .ID }}",
			Details: `
{{ "Details:" | bold }}
	{{ "Run:" | bold }}	{{ .ID | cyan }}
	{{ "Started:" | bold }}	{{ .Started | started | cyan }}
	{{ "Targets:" | bold }}	{{ .Targets | cyan }}
	{{ "Succeeded:" | bold }}	{{ .Succeeded | cyan }}
	{{ "Failed:" | bold }}	{{ .Failed | cyan }}
`,
			Selected: "{{ .ID }}",
			FuncMap:  selectFuncMap(),
		},
	}

	selector.Stdout = os.Stderr

	index, _, err := selector.Run()
	if err != nil {
		os.Stdout.Sync()
		return nil, err
	}

	return runs[index], nil
}

func selectFuncMap() map[string]interface{} {
	funcs := promptui.FuncMap
	funcs["started"] = func(ts int64) string {
		return time.Unix(ts, 0).Format(time.RFC3339)
	}
	return funcs
}
