package builtin

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/agentrun/tool"
)

// CurrentTimeArgs are the arguments accepted by the current_time tool.
type CurrentTimeArgs struct {
	Timezone string `json:"timezone,omitempty" description:"IANA time zone name, e.g. Europe/Berlin. Defaults to UTC."`
}

// CurrentTime is the result of the current_time tool.
type CurrentTime struct {
	Time     string `json:"time"`
	Timezone string `json:"timezone"`
	Unix     int64  `json:"unix"`
}

// NewCurrentTime returns a tool reporting the current wall clock time.
func NewCurrentTime() *tool.FunctionTool {
	return newCurrentTime(time.Now)
}

func newCurrentTime(now func() time.Time) *tool.FunctionTool {
	return tool.NewTypedTool(CurrentTimeID,
		"Get the current date and time, optionally in a specific time zone",
		func(_ context.Context, args CurrentTimeArgs) (any, error) {
			name := args.Timezone
			if name == "" {
				name = "UTC"
			}
			loc, err := time.LoadLocation(name)
			if err != nil {
				return nil, tool.NewToolError(CurrentTimeID, fmt.Sprintf("unknown time zone %q", name), tool.CodeValidation)
			}
			t := now().In(loc)
			return CurrentTime{Time: t.Format(time.RFC3339), Timezone: loc.String(), Unix: t.Unix()}, nil
		})
}
