package envforge

////////////////////////////////////////////////////////////////////////////////
// Subjects (base -> syspkgs -> repos -> deps -> env -> entrypoint chain) + KV
////////////////////////////////////////////////////////////////////////////////

const (
	// The driver publishes provisioning operations here.
	subjectProvisionStart = "envforge.provision.op.start"

	// Stage chain. Each stage subscribes to its predecessor's done subject;
	// the subject wiring is the declared dependency edge between stages.
	subjectBaseDone       = "envforge.provision.base.done"
	subjectSysPkgsDone    = "envforge.provision.syspkgs.done"
	subjectReposDone      = "envforge.provision.repos.done"
	subjectDepsDone       = "envforge.provision.deps.done"
	subjectEnvDone        = "envforge.provision.env.done"
	subjectEntrypointDone = "envforge.provision.entrypoint.done"

	// KV buckets.
	kvBucketManifests = "envforge_manifests"
	kvBucketRuns      = "envforge_runs"

	// Key prefixes in KV.
	kvManifestKeyPrefix = "manifest/"
	kvRunKeyPrefix      = "run/"
)
