package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const (
	EntryInstanceCreated = "INSTANCE_CREATED"
	EntryVoteCast        = "VOTE_CAST"
	EntryStageAdvanced   = "STAGE_ADVANCED"
	EntryApproved        = "APPROVED"
	EntryRejected        = "REJECTED"
)

// Writer appends audit entries. Entries are written only inside the engine's
// transactions so the log can never disagree with committed state.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type Payload map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, entryType, instanceID, stageID, voteID, actorID string, payload Payload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO audit_entries(instance_id,entry_type,stage_id,vote_id,actor_id,payload_json,ts) VALUES (?,?,?,?,?,?,?)`,
		instanceID, entryType, nullable(stageID), nullable(voteID), actorID, string(data), ts)
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
