package connection

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUploadFileNameDerivesFromPath(t *testing.T) {
	assert.Equal(t, "report.csv", uploadFileName("/uploads/report.csv"))
	assert.Equal(t, "upload.bin", uploadFileName("/"))
	assert.Equal(t, "upload.bin", uploadFileName(""))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "READING", StateReading.String())
	assert.Equal(t, "PROCESSING", StateProcessing.String())
	assert.Equal(t, "SENDING", StateSending.String())
	assert.Equal(t, "CLOSED", StateClosed.String())
}
