package ui

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/manifoldco/promptui"

	"upscaler/internal/device"
	"upscaler/internal/inference"
	"upscaler/internal/validation"
)

// Prompter asks the user for input.
type Prompter interface {
	Select(label string, items []string, cursor int) (int, error)
	Input(label, defaultValue string, validate func(string) error) (string, error)
}

// TerminalPrompter prompts interactively on the terminal.
type TerminalPrompter struct{}

func (TerminalPrompter) Select(label string, items []string, cursor int) (int, error) {
	sel := promptui.Select{
		Label:     label,
		Items:     items,
		Size:      len(items),
		CursorPos: cursor,
	}
	idx, _, err := sel.Run()
	return idx, err
}

func (TerminalPrompter) Input(label, defaultValue string, validate func(string) error) (string, error) {
	p := promptui.Prompt{
		Label:    label,
		Default:  defaultValue,
		Validate: validate,
	}
	return p.Run()
}

// AskInputPath asks for a media file until a valid one is given.
func AskInputPath(p Prompter) (string, error) {
	answer, err := p.Input("📁 Image or video file path", "", func(s string) error {
		_, err := validation.ValidateInputPath(s)
		return err
	})
	if err != nil {
		return "", err
	}
	return validation.CleanPath(answer), nil
}

// ChooseModel offers the supported models, default first.
func ChooseModel(p Prompter) (string, error) {
	ids := inference.ModelIDs()
	items := make([]string, len(ids))
	for i, id := range ids {
		m, _ := inference.LookupModel(id)
		items[i] = fmt.Sprintf("%s (x%d) - %s", id, m.Scale, m.Description)
	}
	idx, err := p.Select("🧠 Upscaling model", items, 0)
	if err != nil {
		return "", err
	}
	if idx < 0 || idx >= len(ids) {
		return "", fmt.Errorf("invalid model choice %d", idx)
	}
	return ids[idx], nil
}

// ChooseBackend offers the available backends, best first. A single
// backend is returned without prompting.
func ChooseBackend(p Prompter, available []device.Backend) (device.Backend, error) {
	if len(available) == 0 {
		return "", errors.New("no compute backend available")
	}
	if len(available) == 1 {
		return available[0], nil
	}
	items := make([]string, len(available))
	for i, b := range available {
		items[i] = b.Label()
	}
	idx, err := p.Select("🖥️  Compute device", items, 0)
	if err != nil {
		return "", err
	}
	if idx < 0 || idx >= len(available) {
		return "", fmt.Errorf("invalid device choice %d", idx)
	}
	return available[idx], nil
}

// AskFPS asks for the output frame rate. Empty keeps the source rate.
func AskFPS(p Prompter) (float64, error) {
	answer, err := p.Input(fmt.Sprintf("🎞️  Output FPS (0-%d, 0 keeps original)", validation.MaxFPS), "0", func(s string) error {
		_, err := parseFPS(s)
		return err
	})
	if err != nil {
		return 0, err
	}
	return parseFPS(answer)
}

func parseFPS(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	fps, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errors.New("invalid number")
	}
	if err := validation.ValidateFPS(fps); err != nil {
		return 0, err
	}
	return fps, nil
}
