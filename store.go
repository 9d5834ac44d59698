package envforge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

////////////////////////////////////////////////////////////////////////////////
// Persistence: manifests + provisioning runs in KV (JSON)
////////////////////////////////////////////////////////////////////////////////

type Store struct {
	kvManifests jetstream.KeyValue
	kvRuns      jetstream.KeyValue
	runEvents   *runEventHub
}

var errRunNotFound = errors.New("run not found")

func newStore(ctx context.Context, js jetstream.JetStream) (*Store, error) {
	var manifestsKV jetstream.KeyValue
	err := ensureKVBucket(ctx, js, kvBucketManifests, defaultKVManifestHistory, &manifestsKV)
	if err != nil {
		return nil, err
	}
	var runsKV jetstream.KeyValue
	err = ensureKVBucket(ctx, js, kvBucketRuns, defaultKVRunHistory, &runsKV)
	if err != nil {
		return nil, err
	}
	return &Store{
		kvManifests: manifestsKV,
		kvRuns:      runsKV,
		runEvents:   nil,
	}, nil
}

func (s *Store) setRunEvents(hub *runEventHub) {
	if s == nil {
		return
	}
	s.runEvents = hub
}

func (s *Store) PutManifest(ctx context.Context, spec EnvironmentSpec) error {
	b, err := json.Marshal(spec)
	if err != nil {
		return err
	}
	_, err = s.kvManifests.Put(ctx, kvManifestKeyPrefix+spec.Name, b)
	return err
}

func (s *Store) GetManifest(ctx context.Context, name string) (EnvironmentSpec, error) {
	entry, err := s.kvManifests.Get(ctx, kvManifestKeyPrefix+name)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return EnvironmentSpec{}, fmt.Errorf("manifest %q not found", name)
		}
		return EnvironmentSpec{}, err
	}
	var spec EnvironmentSpec
	if err := json.Unmarshal(entry.Value(), &spec); err != nil {
		return EnvironmentSpec{}, err
	}
	return spec, nil
}

func (s *Store) PutRun(ctx context.Context, run ProvisionRun) error {
	b, err := json.Marshal(run)
	if err != nil {
		return err
	}
	_, err = s.kvRuns.Put(ctx, kvRunKeyPrefix+run.ID, b)
	return err
}

func (s *Store) GetRun(ctx context.Context, runID string) (ProvisionRun, error) {
	entry, err := s.kvRuns.Get(ctx, kvRunKeyPrefix+runID)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return ProvisionRun{}, errRunNotFound
		}
		return ProvisionRun{}, err
	}
	var run ProvisionRun
	if err := json.Unmarshal(entry.Value(), &run); err != nil {
		return ProvisionRun{}, err
	}
	return run, nil
}

func newProvisionRun(runID string, spec EnvironmentSpec, params BuildParameters) ProvisionRun {
	return ProvisionRun{
		ID:        runID,
		Manifest:  spec.Name,
		Params:    params,
		Requested: time.Now().UTC(),
		Finished:  time.Time{},
		Status:    runStatusQueued,
		Error:     "",
		Steps:     nil,
	}
}
