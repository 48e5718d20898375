package cli

import "github.com/google/uuid"

// RunIDGenerator produces the id of a seeding run.
type RunIDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 run ids, so journal runs
// order by start time.
type UUIDv7Generator struct{}

// Generate panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

func (o *RootOptions) runID() string {
	if o.RunIDs != nil {
		return o.RunIDs.Generate()
	}
	return UUIDv7Generator{}.Generate()
}
