package models_test

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/markmastop/waedo-dohockey-live/internal/models"
)

func TestNormalizeMatchKey(t *testing.T) {
	Convey("Given user-supplied match keys", t, func() {
		Convey("When normalizing a padded lowercase key", func() {
			key := models.NormalizeMatchKey("  abc123 ")

			Convey("Then it should be trimmed and uppercased", func() {
				So(key, ShouldEqual, "ABC123")
			})
		})

		Convey("When normalizing an already-normalized key", func() {
			key := models.NormalizeMatchKey("ABC123")

			Convey("Then it should be unchanged", func() {
				So(key, ShouldEqual, "ABC123")
				So(models.NormalizeMatchKey(key), ShouldEqual, key)
			})
		})

		Convey("When normalizing whitespace only", func() {
			Convey("Then the result is empty", func() {
				So(models.NormalizeMatchKey("   "), ShouldEqual, "")
			})
		})
	})
}

func TestValidMatchKey(t *testing.T) {
	Convey("Given normalized match keys", t, func() {
		Convey("Then alphanumeric keys within the length limit are valid", func() {
			So(models.ValidMatchKey("ABC123"), ShouldBeTrue)
			So(models.ValidMatchKey("A"), ShouldBeTrue)
			So(models.ValidMatchKey("ABCDEFGHIJ"), ShouldBeTrue)
		})

		Convey("Then empty and oversized keys are invalid", func() {
			So(models.ValidMatchKey(""), ShouldBeFalse)
			So(models.ValidMatchKey("ABCDEFGHIJK"), ShouldBeFalse)
		})

		Convey("Then keys with punctuation or lowercase are invalid", func() {
			So(models.ValidMatchKey("ABC-123"), ShouldBeFalse)
			So(models.ValidMatchKey("abc123"), ShouldBeFalse)
			So(models.ValidMatchKey("ABC 12"), ShouldBeFalse)
		})
	})
}

func TestMatchTimeDisplay(t *testing.T) {
	Convey("Given a match snapshot", t, func() {
		Convey("When formatting elapsed seconds", func() {
			So(models.MatchSnapshot{MatchTime: 0}.MatchTimeDisplay(), ShouldEqual, "0:00")
			So(models.MatchSnapshot{MatchTime: 65}.MatchTimeDisplay(), ShouldEqual, "1:05")
			So(models.MatchSnapshot{MatchTime: 600}.MatchTimeDisplay(), ShouldEqual, "10:00")
			So(models.MatchSnapshot{MatchTime: 754}.MatchTimeDisplay(), ShouldEqual, "12:34")
		})
	})
}

func TestMatchStatusValid(t *testing.T) {
	Convey("Given match statuses", t, func() {
		Convey("Then the known lifecycle values are valid", func() {
			So(models.MatchStatusNotStarted.Valid(), ShouldBeTrue)
			So(models.MatchStatusLive.Valid(), ShouldBeTrue)
			So(models.MatchStatusPaused.Valid(), ShouldBeTrue)
			So(models.MatchStatusFinished.Valid(), ShouldBeTrue)
		})

		Convey("Then unknown values are not", func() {
			So(models.MatchStatus("overtime").Valid(), ShouldBeFalse)
			So(models.MatchStatus("").Valid(), ShouldBeFalse)
		})
	})
}

func TestTimelineID(t *testing.T) {
	Convey("Given event records", t, func() {
		Convey("When the record carries an id", func() {
			e := models.EventRecord{ID: "evt-1", Description: "Goal"}

			Convey("Then the id is used verbatim", func() {
				So(e.TimelineID(), ShouldEqual, "evt-1")
			})
		})

		Convey("When the record has no id", func() {
			e := models.EventRecord{Description: "Goal, home team", MatchTime: 125, Quarter: 2}

			Convey("Then the fallback id is deterministic", func() {
				So(e.TimelineID(), ShouldStartWith, "evt-")
				So(e.TimelineID(), ShouldEqual, e.TimelineID())
			})

			Convey("Then a different record hashes differently", func() {
				other := models.EventRecord{Description: "Goal, home team", MatchTime: 126, Quarter: 2}
				So(other.TimelineID(), ShouldNotEqual, e.TimelineID())
			})
		})
	})
}

func TestUpdateFromSnapshot(t *testing.T) {
	Convey("Given a fetched snapshot", t, func() {
		rev := time.Date(2025, 6, 1, 19, 30, 0, 0, time.UTC)
		snap := models.MatchSnapshot{
			MatchKey:  "ABC123",
			HomeTeam:  "Ducks",
			AwayTeam:  "Herons",
			HomeScore: 2,
			AwayScore: 1,
			Status:    models.MatchStatusLive,
			Revision:  rev,
		}

		Convey("When converting it to an update", func() {
			u := models.UpdateFromSnapshot(snap)

			Convey("Then every field is populated", func() {
				So(u.MatchKey, ShouldEqual, "ABC123")
				So(*u.HomeScore, ShouldEqual, 2)
				So(*u.AwayScore, ShouldEqual, 1)
				So(*u.Status, ShouldEqual, models.MatchStatusLive)
				So(u.Revision, ShouldEqual, rev)
			})
		})
	})
}
