package envforge

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

func startWorker(
	ctx context.Context,
	workerName, natsURL, inSubj, outSubj string,
	workspace WorkspaceStore,
	runEvents *runEventHub,
	fn workerFn,
) error {
	workerLog := appLoggerForProcess().Source(workerName)
	go runWorkerLoop(ctx, workerName, natsURL, inSubj, outSubj, workspace, runEvents, fn, workerLog)

	return nil
}

func runWorkerLoop(
	ctx context.Context,
	workerName, natsURL, inSubj, outSubj string,
	workspace WorkspaceStore,
	runEvents *runEventHub,
	fn workerFn,
	workerLog sourceLogger,
) {
	nc, err := nats.Connect(natsURL, nats.Name(workerName))
	if err != nil {
		workerLog.Errorf("connect error: %v", err)
		return
	}
	defer func() {
		if drainErr := nc.Drain(); drainErr != nil {
			workerLog.Warnf("drain error: %v", drainErr)
		}
	}()

	js, err := jetstream.New(nc)
	if err != nil {
		workerLog.Errorf("jetstream error: %v", err)
		return
	}
	store, err := newStore(ctx, js)
	if err != nil {
		workerLog.Errorf("store error: %v", err)
		return
	}
	store.setRunEvents(runEvents)
	workerLog.Infof("ready: subscribe=%s publish=%s", inSubj, outSubj)

	sub, err := nc.Subscribe(inSubj, func(m *nats.Msg) {
		handleWorkerMessage(
			ctx,
			store,
			workspace,
			workerName,
			inSubj,
			outSubj,
			fn,
			nc,
			m,
			workerLog,
		)
	})
	if err != nil {
		workerLog.Errorf("subscribe error: %v", err)
		return
	}
	defer func() {
		if unSubErr := sub.Unsubscribe(); unSubErr != nil {
			workerLog.Warnf("unsubscribe error: %v", unSubErr)
		}
	}()

	_ = nc.Flush()
	<-ctx.Done()
}

func handleWorkerMessage(
	ctx context.Context,
	store *Store,
	workspace WorkspaceStore,
	workerName, inSubj, outSubj string,
	fn workerFn,
	nc *nats.Conn,
	m *nats.Msg,
	workerLog sourceLogger,
) {
	var opMsg ProvisionOpMsg
	unmarshalErr := json.Unmarshal(m.Data, &opMsg)
	if unmarshalErr != nil {
		workerLog.Warnf("discarding invalid message on %s: %v", inSubj, unmarshalErr)
		return
	}
	if opMsg.Err != "" {
		// Upstream stage failed: propagate without side effects so no later
		// filesystem or environment mutation happens.
		workerLog.Warnf("skip run=%s due to upstream error: %s", shortID(opMsg.RunID), opMsg.Err)
		publishErr := publishWorkerResult(nc, outSubj, skipWorkerResult(opMsg, workerName))
		if publishErr != nil {
			workerLog.Errorf(
				"publish result failed run=%s subject=%s: %v",
				shortID(opMsg.RunID),
				outSubj,
				publishErr,
			)
		}
		return
	}

	workerLog.Infof("start run=%s manifest=%s", shortID(opMsg.RunID), opMsg.Spec.Name)
	res, workerErr := fn(ctx, store, workspace, opMsg)
	if workerErr != nil {
		res.Err = workerErr.Error()
		workerLog.Errorf("run=%s failed: %v", shortID(opMsg.RunID), workerErr)
	} else {
		workerLog.Infof(
			"done run=%s message=%q artifacts=%d",
			shortID(opMsg.RunID),
			res.Message,
			len(res.Artifacts),
		)
	}
	publishErr := publishWorkerResult(nc, outSubj, finalizeWorkerResult(opMsg, workerName, res))
	if publishErr != nil {
		workerLog.Errorf(
			"publish result failed run=%s subject=%s: %v",
			shortID(opMsg.RunID),
			outSubj,
			publishErr,
		)
	}
}
