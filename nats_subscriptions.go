package envforge

import (
	"encoding/json"

	"github.com/nats-io/nats.go"
)

////////////////////////////////////////////////////////////////////////////////
// NATS subscription for the final stage completion to wake the driver waiter
////////////////////////////////////////////////////////////////////////////////

func subscribeFinalResults(nc *nats.Conn, waiters *waiterHub) (*nats.Subscription, error) {
	return nc.Subscribe(subjectEntrypointDone, func(m *nats.Msg) {
		var msg WorkerResultMsg
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			return
		}
		waiters.deliver(msg.RunID, msg)
	})
}
