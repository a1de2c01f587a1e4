package storage

import (
	"sort"
	"time"

	"remindbot/internal/reminder"
)

func toRecord(r reminder.Reminder) record {
	rec := record{
		MessageID: r.MessageID,
		ChannelID: r.ChannelID,
		GuildID:   r.GuildID,
		Title:     r.Title,
		Interval:  r.Interval.Milliseconds(),
		Required:  sortedKeys(r.RequiredReactions),
		Reacted:   sortedKeys(r.ReactedUserIDs),
		Eligible:  sortedKeys(r.EligibleUserIDs),
		Paused:    r.Paused,
		CreatedAt: r.CreatedAt.UnixMilli(),
	}
	if !r.LastFired.IsZero() {
		rec.LastFired = r.LastFired.UnixMilli()
	}
	return rec
}

func fromRecord(rec record) reminder.Reminder {
	r := reminder.Reminder{
		MessageID: rec.MessageID,
		ChannelID: rec.ChannelID,
		GuildID:   rec.GuildID,
		Title:     rec.Title,
		Interval:  time.Duration(rec.Interval) * time.Millisecond,
		Paused:    rec.Paused,
		CreatedAt: time.UnixMilli(rec.CreatedAt).UTC(),
	}
	if len(rec.Required) > 0 {
		r.RequiredReactions = reminder.SetOf(rec.Required...)
	}
	if len(rec.Reacted) > 0 {
		r.ReactedUserIDs = reminder.SetOf(rec.Reacted...)
	}
	if len(rec.Eligible) > 0 {
		r.EligibleUserIDs = reminder.SetOf(rec.Eligible...)
	}
	if rec.LastFired != 0 {
		r.LastFired = time.UnixMilli(rec.LastFired).UTC()
	}
	return r
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
