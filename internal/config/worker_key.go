package config

type WorkerKeyStruct struct {
	ReconcileScoresQueue string
}

var WorkerKey = &WorkerKeyStruct{
	ReconcileScoresQueue: "reconcile_scores_queue",
}
