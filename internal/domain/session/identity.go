package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/classhub/classhub-sessions/internal/domain/shared"
)

// Virtual identifier grammar:
//
//	virtual_<groupID>_<RFC3339 UTC start>[_<scheduleItemID>]
//
// Underscore is safe as a delimiter because neither uuids nor RFC3339
// timestamps contain one. Anything matching the prefix is classified as
// virtual; everything else is an opaque stored id looked up directly.
//
// A virtual identifier embeds a groupId supplied by the caller, so resolving
// one must always re-check authorization for that group with the access
// control port - the decoded groupId is never trusted on its own.
const virtualPrefix = "virtual_"

// VirtualID is a decoded virtual session identifier.
type VirtualID struct {
	GroupID        uuid.UUID
	StartAt        time.Time // UTC instant
	ScheduleItemID *uuid.UUID
}

// SlotKey returns the slot identified by the virtual id.
func (v VirtualID) SlotKey() SlotKey {
	return SlotKey{GroupID: v.GroupID, StartAt: v.StartAt}
}

// String re-encodes the identifier.
func (v VirtualID) String() string {
	return EncodeVirtualID(v.GroupID, v.StartAt, v.ScheduleItemID)
}

// EncodeVirtualID derives the deterministic identifier for a not-yet
// materialized occurrence.
func EncodeVirtualID(groupID uuid.UUID, startAt time.Time, scheduleItemID *uuid.UUID) string {
	base := fmt.Sprintf("%s%s_%s", virtualPrefix, groupID, startAt.UTC().Format(time.RFC3339))
	if scheduleItemID != nil && *scheduleItemID != uuid.Nil {
		return base + "_" + scheduleItemID.String()
	}
	return base
}

// IsVirtualID classifies an incoming identifier. Identifiers matching the
// virtual grammar prefix are virtual; all others are opaque stored ids.
func IsVirtualID(id string) bool {
	return strings.HasPrefix(id, virtualPrefix)
}

// DecodeVirtualID parses a virtual identifier, rejecting anything that does
// not have exactly the expected field count or whose components fail to parse.
func DecodeVirtualID(id string) (VirtualID, error) {
	if !IsVirtualID(id) {
		return VirtualID{}, shared.NewDomainError("session", "DecodeVirtualID", shared.ErrInvalidIdentifier,
			"identifier is not virtual")
	}

	parts := strings.Split(id, "_")
	if len(parts) != 3 && len(parts) != 4 {
		return VirtualID{}, shared.NewDomainError("session", "DecodeVirtualID", shared.ErrInvalidIdentifier,
			fmt.Sprintf("expected 3 or 4 fields, got %d", len(parts)))
	}

	groupID, err := uuid.Parse(parts[1])
	if err != nil {
		return VirtualID{}, shared.WrapError("session", "DecodeVirtualID", shared.ErrInvalidIdentifier,
			"invalid group id", err)
	}

	startAt, err := time.Parse(time.RFC3339, parts[2])
	if err != nil {
		return VirtualID{}, shared.WrapError("session", "DecodeVirtualID", shared.ErrInvalidIdentifier,
			"invalid start time", err)
	}

	decoded := VirtualID{GroupID: groupID, StartAt: startAt.UTC()}
	if len(parts) == 4 {
		itemID, err := uuid.Parse(parts[3])
		if err != nil {
			return VirtualID{}, shared.WrapError("session", "DecodeVirtualID", shared.ErrInvalidIdentifier,
				"invalid schedule item id", err)
		}
		decoded.ScheduleItemID = &itemID
	}
	return decoded, nil
}
