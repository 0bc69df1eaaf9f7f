package follower_test

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/markmastop/waedo-dohockey-live/internal/follower"
	"github.com/markmastop/waedo-dohockey-live/internal/models"
)

func TestDescribe(t *testing.T) {
	Convey("Given snapshots with different event encodings", t, func() {
		Convey("When a structured event list is present", func() {
			snap := models.MatchSnapshot{
				LastEvent: "Goal A",
				Events: []models.EventRecord{
					{ID: "evt-1", Description: "Goal A"},
					{ID: "evt-2", Description: "Goal B"},
				},
			}
			desc, ok := follower.Describe(snap)

			Convey("Then the latest record wins over the scalar field", func() {
				So(ok, ShouldBeTrue)
				So(desc, ShouldEqual, "Goal B")
			})
		})

		Convey("When the latest record has a blank description", func() {
			snap := models.MatchSnapshot{
				LastEvent: "Goal A",
				Events:    []models.EventRecord{{ID: "evt-1", Description: "  "}},
			}
			desc, ok := follower.Describe(snap)

			Convey("Then the scalar field is used instead", func() {
				So(ok, ShouldBeTrue)
				So(desc, ShouldEqual, "Goal A")
			})
		})

		Convey("When the scalar field holds a JSON object", func() {
			snap := models.MatchSnapshot{
				LastEvent: `{"description": "Penalty corner", "quarter": 2}`,
			}
			desc, ok := follower.Describe(snap)

			Convey("Then the description is extracted", func() {
				So(ok, ShouldBeTrue)
				So(desc, ShouldEqual, "Penalty corner")
			})
		})

		Convey("When the scalar field holds plain text", func() {
			desc, ok := follower.Describe(models.MatchSnapshot{LastEvent: "Half time"})

			Convey("Then the text is used as-is", func() {
				So(ok, ShouldBeTrue)
				So(desc, ShouldEqual, "Half time")
			})
		})

		Convey("When the scalar field holds malformed JSON", func() {
			desc, ok := follower.Describe(models.MatchSnapshot{LastEvent: `{"description": "Goal`})

			Convey("Then the raw text survives rather than an error", func() {
				So(ok, ShouldBeTrue)
				So(desc, ShouldEqual, `{"description": "Goal`)
			})
		})

		Convey("When the scalar field holds JSON without a description", func() {
			raw := `{"action": "card"}`
			desc, ok := follower.Describe(models.MatchSnapshot{LastEvent: raw})

			Convey("Then the raw text is used", func() {
				So(ok, ShouldBeTrue)
				So(desc, ShouldEqual, raw)
			})
		})

		Convey("When no event data is present", func() {
			desc, ok := follower.Describe(models.MatchSnapshot{LastEvent: "  "})

			Convey("Then there is no description", func() {
				So(ok, ShouldBeFalse)
				So(desc, ShouldEqual, "")
			})
		})
	})
}
