package envforge

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
)

func skipWorkerResult(opMsg ProvisionOpMsg, workerName string) WorkerResultMsg {
	res := newWorkerResultMsg("skipped due to upstream error")
	res.RunID = opMsg.RunID
	res.Spec = opMsg.Spec
	res.Params = opMsg.Params
	res.Worker = workerName
	res.Err = opMsg.Err
	res.At = time.Now().UTC()
	return res
}

func finalizeWorkerResult(
	opMsg ProvisionOpMsg,
	workerName string,
	res WorkerResultMsg,
) WorkerResultMsg {
	res.Worker = workerName
	res.RunID = opMsg.RunID
	res.Spec = opMsg.Spec
	res.Params = opMsg.Params
	if res.Err == "" {
		res.Err = opMsg.Err
	}
	res.At = time.Now().UTC()
	return res
}

func publishWorkerResult(nc *nats.Conn, subject string, res WorkerResultMsg) error {
	body, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return nc.Publish(subject, body)
}
