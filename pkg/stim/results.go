// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package stim

import "fmt"

// Result is the outcome code of a finished session or program
type Result int

// Result codes. None is the null sentinel and is never emitted.
const (
	None Result = iota
	ChrimsonDelivered
	ChrimsonCancelled
	UIChrimsonDelivered
	UIChrimsonCancelled
	Chr2Delivered
	Chr2Cancelled
	UIChr2Delivered
	UIChr2Cancelled
	LadderComplete
	LadderCancelled
	TagComplete
	TagCancelled

	// ResultCount is the number of result codes
	ResultCount
)

var resultNames = [...]string{
	None:                "none",
	ChrimsonDelivered:   "chrimson_delivered",
	ChrimsonCancelled:   "chrimson_cancelled",
	UIChrimsonDelivered: "ui_chrimson_delivered",
	UIChrimsonCancelled: "ui_chrimson_cancelled",
	Chr2Delivered:       "chr2_delivered",
	Chr2Cancelled:       "chr2_cancelled",
	UIChr2Delivered:     "ui_chr2_delivered",
	UIChr2Cancelled:     "ui_chr2_cancelled",
	LadderComplete:      "ladder_complete",
	LadderCancelled:     "ladder_cancelled",
	TagComplete:         "tag_complete",
	TagCancelled:        "tag_cancelled",
}

var _ [len(resultNames) - int(ResultCount)]struct{}
var _ [int(ResultCount) - len(resultNames)]struct{}

func (r Result) String() string {
	if r < 0 || r >= ResultCount {
		return fmt.Sprintf("result(%d)", int(r))
	}
	return resultNames[r]
}
