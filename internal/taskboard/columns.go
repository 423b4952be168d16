package taskboard

import "github.com/halcyon-surgical/portal/internal/domain"

// Columns is a board split into its three status groups. Every task lands in
// exactly one group.
type Columns struct {
	Todo       []domain.Task `json:"todo"`
	InProgress []domain.Task `json:"in_progress"`
	Done       []domain.Task `json:"done"`
}

// Partition groups tasks by status, keeping their relative order.
func Partition(tasks []domain.Task) Columns {
	c := Columns{
		Todo:       []domain.Task{},
		InProgress: []domain.Task{},
		Done:       []domain.Task{},
	}
	for _, t := range tasks {
		switch t.Status {
		case domain.StatusInProgress:
			c.InProgress = append(c.InProgress, t)
		case domain.StatusDone:
			c.Done = append(c.Done, t)
		default:
			c.Todo = append(c.Todo, t)
		}
	}
	return c
}

// Len returns the number of tasks across all columns.
func (c Columns) Len() int {
	return len(c.Todo) + len(c.InProgress) + len(c.Done)
}
