package importer

// Duplicate is a mapped record whose natural key matches an existing record.
type Duplicate struct {
	*MappedRecord
	ID string `json:"id"`
}

// ExistingRecord is a stored record in decoded form.
type ExistingRecord struct {
	ID     string
	Fields map[string]any
}

// Classification partitions an upload into new records and duplicates.
// Records without a complete natural key appear in neither.
type Classification struct {
	NewRecords  []*MappedRecord `json:"newRecords"`
	Duplicates  []*Duplicate    `json:"duplicates"`
	SkippedRows []int           `json:"skippedRows,omitempty"`
}

// Classify matches mapped records against existing ones by natural key.
// When several existing records share a key the first one listed wins.
// Rows of the same upload are never compared with each other.
func Classify(mapped []*MappedRecord, existing []ExistingRecord, keyFn KeyFunc) *Classification {
	index := make(map[Key]string, len(existing))
	for _, e := range existing {
		k, ok := keyFn(e.Fields)
		if !ok {
			continue
		}
		if _, seen := index[k]; !seen {
			index[k] = e.ID
		}
	}

	c := &Classification{
		NewRecords: []*MappedRecord{},
		Duplicates: []*Duplicate{},
	}
	for _, rec := range mapped {
		k, ok := keyFn(rec.Fields)
		if !ok {
			c.SkippedRows = append(c.SkippedRows, rec.Row)
			continue
		}
		if id, found := index[k]; found {
			c.Duplicates = append(c.Duplicates, &Duplicate{MappedRecord: rec, ID: id})
		} else {
			c.NewRecords = append(c.NewRecords, rec)
		}
	}
	return c
}

// Action is the next step after classification.
type Action int

const (
	// ActionNothing: both partitions are empty.
	ActionNothing Action = iota
	// ActionCommitNew: no duplicates, commit new records immediately.
	ActionCommitNew
	// ActionAwaitDecision: duplicates exist, ask the user.
	ActionAwaitDecision
)

func (a Action) String() string {
	switch a {
	case ActionCommitNew:
		return "commit-new"
	case ActionAwaitDecision:
		return "await-decision"
	default:
		return "nothing"
	}
}

// Plan returns the action for c.
func (c *Classification) Plan() Action {
	switch {
	case len(c.Duplicates) > 0:
		return ActionAwaitDecision
	case len(c.NewRecords) > 0:
		return ActionCommitNew
	default:
		return ActionNothing
	}
}
