package domain

// MergeStatus folds a fresh status response into the locally known job.
//
// Field precedence:
//   - ID: always local.
//   - State (status, progress, error): always fresh.
//   - Model, Size, Seconds, CreatedAt: fresh when the response carries them,
//     local otherwise.
//   - Prompt, RemixOf: local when known, fresh otherwise. The status endpoint
//     does not echo them.
//
// A terminal local job is returned unchanged.
func MergeStatus(local, fresh Job) Job {
	if local.Terminal() {
		return local
	}
	merged := Job{
		ID:        local.ID,
		Model:     firstNonEmpty(fresh.Model, local.Model),
		Size:      firstNonEmpty(fresh.Size, local.Size),
		Seconds:   firstNonEmpty(fresh.Seconds, local.Seconds),
		Prompt:    firstNonEmpty(local.Prompt, fresh.Prompt),
		RemixOf:   firstNonEmpty(local.RemixOf, fresh.RemixOf),
		CreatedAt: local.CreatedAt,
		State:     fresh.State,
	}
	if fresh.CreatedAt != 0 {
		merged.CreatedAt = fresh.CreatedAt
	}
	if merged.State == nil {
		merged.State = local.State
	}
	return merged
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
