package metacache

// reporter carries the logging and hook plumbing shared by every population.
type reporter struct {
	ns         string
	objectType string
	log        Logger
	hooks      Hooks
}

func (r reporter) fail(op, owner, key string, err error, f Fields) error {
	le := &LoadError{
		Op:         op,
		Namespace:  r.ns,
		ObjectType: r.objectType,
		Owner:      owner,
		Parent:     key,
		Kind:       classify(err),
		Err:        err,
	}
	r.log.Error("population failed", f.with("kind", le.Kind.String(), "err", err))
	r.hooks.PopulationFailed(r.ns, op, le)
	return le
}

func (r reporter) skip(op string, row int, err error, f Fields) {
	r.log.Debug("row skipped", f.with("row", row, "err", err))
	r.hooks.RowSkipped(r.ns, op, err)
}

func (r reporter) cancelled(op string, rows int, f Fields) {
	r.log.Info("population cancelled", f.with("rows", rows))
	r.hooks.PopulationCancelled(r.ns, op, rows)
}

func (r reporter) logDups(f Fields, dups []string) {
	for _, d := range dups {
		r.log.Warn("duplicate object name dropped", f.with("name", d))
	}
}
