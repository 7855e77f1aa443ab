package workers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderManifest(t *testing.T) {
	stops := []manifestStop{
		{startTime: "09:00", serviceType: "deep", customerName: "Dana", address: "12 Elm St, Maplewood"},
		{startTime: "13:00", serviceType: "standard", customerName: "Raj", address: "48 Oak Ave, Maplewood"},
	}

	manifest := renderManifest(stops)
	assert.Equal(t,
		"1. 09:00 deep for Dana at 12 Elm St, Maplewood\n"+
			"2. 13:00 standard for Raj at 48 Oak Ave, Maplewood",
		manifest)
}

func TestRenderManifest_SingleStop(t *testing.T) {
	stops := []manifestStop{
		{startTime: "10:30", serviceType: "move_out", customerName: "Lee", address: "7 Pine Rd, Summit"},
	}

	assert.Equal(t, "1. 10:30 move_out for Lee at 7 Pine Rd, Summit", renderManifest(stops))
}
