package model

import "fmt"

type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

var validStatuses = map[Status]bool{
	StatusCompleted: true,
	StatusFailed:    true,
}

func (s Status) IsValid() bool {
	return validStatuses[s]
}

func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.IsValid() {
		return "", fmt.Errorf("unknown outcome status %q", s)
	}
	return st, nil
}
