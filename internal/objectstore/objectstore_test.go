package objectstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProgressRegexes(t *testing.T) {
	line := "Transferred:   \t   57.344 MiB / 115.477 MiB, 49%, 9.623 MiB/s, ETA 6s"

	pm := percentRe.FindStringSubmatch(line)
	assert.NotNil(t, pm)
	assert.Equal(t, "49", pm[1])

	sm := speedRe.FindString(line)
	assert.Equal(t, "9.623 MiB/s", sm)
}

func TestProgressRegexes_NoMatch(t *testing.T) {
	line := "---"
	assert.Nil(t, percentRe.FindStringSubmatch(line))
	assert.Equal(t, "", speedRe.FindString(line))
}

func TestQuoteAndRemoteRef(t *testing.T) {
	assert.Equal(t, `'it'\''s'`, quote("it's"))
	assert.Equal(t, "gdrive:backups/site", remoteRef("gdrive", "backups/site"))
}
