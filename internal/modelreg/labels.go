package modelreg

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
)

var ErrUnknownLabel = errors.New("model output has no matching label")

// LoadLabels reads one class label per line, skipping blank lines and
// "#" comments. Line order is the model's output index order.
func LoadLabels(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open labels: %w", err)
	}
	defer f.Close()

	var labels []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		labels = append(labels, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read labels: %w", err)
	}
	return labels, nil
}

// pickLabel maps model scores to a class label. A single score is treated
// as a binary probability for labels[1].
func pickLabel(scores []float32, labels []string) (string, error) {
	if len(scores) == 0 {
		return "", errors.New("model returned no scores")
	}
	idx := 0
	if len(scores) == 1 {
		if scores[0] >= 0.5 {
			idx = 1
		}
	} else {
		for i, s := range scores {
			if s > scores[idx] {
				idx = i
			}
		}
	}
	if len(labels) == 0 {
		return fmt.Sprintf("%d", idx), nil
	}
	if idx >= len(labels) {
		return "", fmt.Errorf("%w: index %d of %d", ErrUnknownLabel, idx, len(labels))
	}
	return labels[idx], nil
}
