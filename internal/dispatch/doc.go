// Package dispatch owns the lifecycle of model instances and routes
// completion requests to them. It caches one adapter per model name,
// loads each model at most once even under concurrent first requests,
// serializes generation per instance through a bounded admission queue,
// and drains instances before unloading them.
package dispatch
