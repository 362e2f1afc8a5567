package store

// WriteIntent is a pending write with its concurrency precondition.
type WriteIntent struct {
	Entry *Entry
	Op    WriteOp
	// Expected is the token captured at load time. The dispatcher's write
	// must match it atomically; it is never re-read here.
	Expected Token
}

// CheckAndPrepare turns a pending entry into a write intent. An update or
// delete of a token-bearing kind without a captured token cannot prove the
// row's state and is a conflict.
func CheckAndPrepare(e *Entry) (WriteIntent, error) {
	in := WriteIntent{Entry: e}
	switch e.State {
	case Added:
		in.Op = OpInsert
		return in, nil
	case Modified:
		in.Op = OpUpdate
	case Deleted:
		in.Op = OpDelete
	default:
		return in, &IntegrityError{Kind: e.Desc.Kind, Key: e.Key(), Reason: "entity has no pending write"}
	}
	if e.Desc.TokenColumn != "" {
		if len(e.Token) == 0 {
			return in, conflictFor(e)
		}
		in.Expected = e.Token
	}
	return in, nil
}

// checkAffected maps a zero-row update or delete to a conflict.
func checkAffected(in WriteIntent, r WriteResult) error {
	if in.Op != OpInsert && r.Affected == 0 {
		return conflictFor(in.Entry)
	}
	return nil
}

func conflictFor(e *Entry) *ConflictError {
	return &ConflictError{Kind: e.Desc.Kind, Key: e.Key(), Entity: e.Entity}
}
