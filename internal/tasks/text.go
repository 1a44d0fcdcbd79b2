package tasks

import (
	"fmt"
	"strconv"
	"strings"

	"ctf-bot/internal/models"
)

// ParseText reads the chat form of a task:
//
//	Name
//	flag one, flag two
//	100 hidden draft        (optional; points and keywords in any order)
//	Description, any number of lines
//
// The options line is recognised when its first word is a number or one of
// the keywords; otherwise it is the first line of the description.
func ParseText(text string, defaultPoints int) (models.TaskSpec, error) {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	if len(lines) < 2 {
		return models.TaskSpec{}, fmt.Errorf("%w: expected at least two lines: name and flags", models.ErrValidation)
	}
	spec := models.TaskSpec{
		Name:   lines[0],
		Flags:  strings.Split(lines[1], ","),
		Points: defaultPoints,
	}
	rest := lines[2:]
	if len(rest) > 0 && isOptionsLine(rest[0]) {
		if err := applyOptions(&spec, rest[0]); err != nil {
			return models.TaskSpec{}, err
		}
		rest = rest[1:]
	}
	spec.Description = strings.Join(rest, "\n")
	spec = Normalize(spec)
	if err := Validate(spec); err != nil {
		return models.TaskSpec{}, err
	}
	return spec, nil
}

func isOptionsLine(line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	if _, err := strconv.Atoi(fields[0]); err == nil {
		return true
	}
	return isKeyword(fields[0])
}

func isKeyword(s string) bool {
	switch strings.ToLower(s) {
	case "hidden", "draft":
		return true
	}
	return false
}

func applyOptions(spec *models.TaskSpec, line string) error {
	for _, f := range strings.Fields(line) {
		if n, err := strconv.Atoi(f); err == nil {
			spec.Points = n
			continue
		}
		switch strings.ToLower(f) {
		case "hidden":
			spec.Hidden = true
		case "draft":
			spec.Draft = true
		default:
			return fmt.Errorf("%w: unknown option %q", models.ErrValidation, f)
		}
	}
	return nil
}

// FormatText renders t in the form ParseText accepts.
func FormatText(t models.Task) string {
	opts := []string{strconv.Itoa(t.Points)}
	if t.Hidden {
		opts = append(opts, "hidden")
	}
	if t.State == models.StateDraft {
		opts = append(opts, "draft")
	}
	b := strings.Builder{}
	b.WriteString(t.Name)
	b.WriteString("\n")
	b.WriteString(strings.Join(t.Flags, ", "))
	b.WriteString("\n")
	b.WriteString(strings.Join(opts, " "))
	if t.Description != "" {
		b.WriteString("\n")
		b.WriteString(t.Description)
	}
	return b.String()
}
