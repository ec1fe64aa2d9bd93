package journal

import (
	"crypto/sha256"
	"encoding/hex"
)

// chainHash computes hash_self for an event given its predecessor's
// hash_self (or "" for a session's first event) and the event's canonical
// bytes with hash_self itself excluded: H(hash_prev || canonical(event)).
func chainHash(hashPrev string, canonical []byte) string {
	h := sha256.New()
	h.Write([]byte(hashPrev))
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil))
}

// HashEvent computes hash_self for ev from its other fields, ignoring
// whatever HashSelf currently holds. Callers (the file-backed store, the
// in-memory test double, and anyone reconstructing a chain) populate every
// other field first, including HashPrev, then call HashEvent last.
func HashEvent(ev Event) (string, error) {
	canon, err := canonicalJSON(canonicalEvent{
		EventID:   ev.EventID,
		Seq:       ev.Seq,
		Timestamp: ev.Timestamp.Format(rfc3339nano),
		SessionID: ev.SessionID,
		Type:      ev.Type,
		Payload:   ev.Payload,
		HashPrev:  ev.HashPrev,
	})
	if err != nil {
		return "", err
	}
	return chainHash(ev.HashPrev, canon), nil
}

// VerifyChain checks that events (already filtered to one session, in Seq
// order) have strictly increasing Seq values and form an unbroken hash
// chain. Seq gaps are allowed, since the global counter also numbers other
// sessions' events. It returns the index of the first broken event and
// false, or (-1, true) if the whole chain verifies.
func VerifyChain(events []Event) (int, bool) {
	prev := ""
	var prevSeq int64 = -1
	for i, ev := range events {
		if prevSeq >= 0 && ev.Seq <= prevSeq {
			return i, false
		}
		if ev.HashPrev != prev {
			return i, false
		}
		want, err := HashEvent(ev)
		if err != nil || want != ev.HashSelf {
			return i, false
		}
		prev = ev.HashSelf
		prevSeq = ev.Seq
	}
	return -1, true
}

const rfc3339nano = "2006-01-02T15:04:05.999999999Z07:00"
