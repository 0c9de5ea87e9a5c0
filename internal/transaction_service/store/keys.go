package store

// Every key the store writes is named here and nowhere else.
const (
	canonicalPrefix = "txn:"
	backupPrefix    = "txn_backup:"
	latestKey       = "txn_latest"

	// Compatibility slots written by Checkpoint.
	legacyPendingKey = "pending_transaction"
	legacyLastKey    = "last_transaction"
)

func canonicalKey(id string) string { return canonicalPrefix + id }

func backupKey(id string) string { return backupPrefix + id }

func sessionKey(sessionID, id string) string {
	return "session:" + sessionID + ":txn:" + id
}

type slot struct {
	name string
	key  string
	// shared slots hold whichever transaction was written last, so the id must be checked on read
	shared bool
}

func (s *Store) writeSlots(id string) []slot {
	slots := []slot{
		{name: "canonical", key: canonicalKey(id)},
		{name: "backup", key: backupKey(id)},
	}
	if s.sessionID != "" {
		slots = append(slots, slot{name: "session", key: sessionKey(s.sessionID, id)})
	}
	return append(slots, slot{name: "latest", key: latestKey, shared: true})
}

// readSlots is the fallback order used by Get.
func (s *Store) readSlots(id string) []slot {
	return append(s.writeSlots(id),
		slot{name: "legacy_pending", key: legacyPendingKey, shared: true},
		slot{name: "legacy_last", key: legacyLastKey, shared: true},
	)
}
