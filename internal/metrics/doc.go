// Package metrics provides the observability hooks the baker reports to.
//
// Components hold a Recorder and default to NoopRecorder, so metrics cost
// nothing unless a real implementation is injected:
//
//	recorder := metrics.NewPrometheusRecorder(registry)
//	baker := bake.New(tracker, toolbox, sched, bake.WithRecorder(recorder))
//
// PrometheusRecorder registers its collectors on the registry it is given;
// HTTPHandler serves that registry for scraping.
package metrics
