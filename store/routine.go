package store

// Routines binds the writes of a kind to stored routines. A nil routine
// falls back to a generated statement.
type Routines struct {
	Insert *Routine
	Update *Routine
	Delete *Routine
}

// Routine is a named stored routine with its parameter binding. Results
// lists the columns the routine returns on success; a routine without
// results returns the number of affected rows.
type Routine struct {
	Name    string
	Params  []RoutineParam
	Results []string
}

// RoutineParam binds a routine parameter to a column. Original parameters
// take the value captured at load time, which is what identity and token
// preconditions need.
type RoutineParam struct {
	Name     string
	Column   string
	Original bool
}

// Current binds a parameter to the column's current value.
func Current(name, column string) RoutineParam {
	return RoutineParam{Name: name, Column: column}
}

// Original binds a parameter to the column's value as loaded.
func Original(name, column string) RoutineParam {
	return RoutineParam{Name: name, Column: column, Original: true}
}

func (r *Routines) forOp(op WriteOp) *Routine {
	if r == nil {
		return nil
	}
	switch op {
	case OpInsert:
		return r.Insert
	case OpUpdate:
		return r.Update
	case OpDelete:
		return r.Delete
	}
	return nil
}
