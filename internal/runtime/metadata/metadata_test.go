package metadata

import (
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
)

func TestCloneDoesNotAlias(t *testing.T) {
	original := Metadata{"a": "1", "b": "2"}
	clone := original.Clone()
	clone["a"] = "changed"

	assert.Equal(t, "1", original["a"])
	assert.Len(t, clone, len(original))

	var empty Metadata
	assert.NotNil(t, empty.Clone())
}

func TestWithAndWithAll(t *testing.T) {
	base := Metadata{"foo": "bar"}
	enriched := base.With("baz", "qux")
	assert.Empty(t, base["baz"])
	assert.Equal(t, "qux", enriched.Get("baz"))

	merged := enriched.WithAll(Metadata{"alpha": "beta", "foo": "override"})
	assert.Equal(t, "beta", merged["alpha"])
	assert.Equal(t, "override", merged["foo"])
	assert.Equal(t, "bar", enriched["foo"])
}

func TestNewPairs(t *testing.T) {
	md := New("key", "value", "another", "entry", "dangling")
	assert.Equal(t, Metadata{"key": "value", "another": "entry"}, md)
}

func TestDurationRoundTrip(t *testing.T) {
	md := Metadata{}.WithDuration(KeyTTL, 1500*time.Millisecond)
	assert.Equal(t, "1500", md[KeyTTL])
	assert.Equal(t, 1500*time.Millisecond, md.Duration(KeyTTL))

	assert.Zero(t, Metadata{KeyTTL: "nope"}.Duration(KeyTTL))
	assert.Zero(t, Metadata{KeyTTL: "-5"}.Duration(KeyTTL))
	assert.Zero(t, Metadata{}.Duration(KeyTTL))
}

func TestApplicationStripsReservedKeys(t *testing.T) {
	md := New(KeyQoS, "1", KeyTTL, "100", KeyMessageID, "m-1", "tenant", "acme")
	assert.Equal(t, Metadata{"tenant": "acme"}, md.Application())
}

func TestToAndFromWatermill(t *testing.T) {
	md := Metadata{"source": "api"}
	wm := ToWatermill(md)
	assert.Equal(t, "api", wm["source"])
	wm["source"] = "mutation"
	assert.Equal(t, "api", md["source"])

	assert.Empty(t, ToWatermill(nil))
	assert.Equal(t, "order", FromWatermill(message.Metadata{"event": "order"})["event"])

	empty := FromWatermill(nil)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}
