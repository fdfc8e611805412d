package bus

import (
	"encoding/json"
	"errors"
	"math/big"
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"hedgeline/core/events"
	"hedgeline/core/types"
)

type message struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	msgs []message
	err  error
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, message{subject: subject, data: data})
	return nil
}

func TestNATSEmitterPublishesFlattenedEvent(t *testing.T) {
	pub := &fakePublisher{}
	emitter := NewNATSEmitter(pub, "hedgeline.", nil)
	owner := ethcommon.HexToAddress("0x00000000000000000000000000000000000a11ce")

	emitter.Emit(events.PerpetualCreated{ID: 3, Owner: owner, Margin: big.NewInt(10), Committed: big.NewInt(20), EntryRate: big.NewInt(5)})

	require.Len(t, pub.msgs, 1)
	require.Equal(t, "hedgeline.perpetual.created", pub.msgs[0].subject)
	var evt types.Event
	require.NoError(t, json.Unmarshal(pub.msgs[0].data, &evt))
	require.Equal(t, "3", evt.Attributes["id"])
	require.Equal(t, owner.Hex(), evt.Attributes["owner"])
}

func TestNATSEmitterSwallowsPublishErrors(t *testing.T) {
	pub := &fakePublisher{err: errors.New("disconnected")}
	emitter := NewNATSEmitter(pub, "", nil)
	require.NotPanics(t, func() { emitter.Emit(events.FeesUpdated{Scope: "ha"}) })

	var nilEmitter *NATSEmitter
	require.NotPanics(t, func() { nilEmitter.Emit(events.FeesUpdated{}) })
}

func TestSubject(t *testing.T) {
	require.Equal(t, "fees.updated", Subject("", "fees.updated"))
	require.Equal(t, "hl.fees.updated", Subject(" hl ", "fees.updated"))
	require.Equal(t, "hl.fees.updated", Subject("hl.", "fees.updated"))
}

func TestMetricsEmitterCountsEvents(t *testing.T) {
	require.NotPanics(t, func() {
		MetricsEmitter{}.Emit(events.FeesUpdated{Scope: "users"})
		MetricsEmitter{}.Emit(nil)
	})
}
