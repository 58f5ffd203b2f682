package domain

import (
	"errors"
	"strings"
	"time"
)

// Project groups pipelines under one owner.
type Project struct {
	ID          string
	Name        string
	Description string
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (p Project) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return errors.New("project id is required")
	}
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("name is required")
	}
	if strings.TrimSpace(p.CreatedBy) == "" {
		return errors.New("created by is required")
	}
	return nil
}
