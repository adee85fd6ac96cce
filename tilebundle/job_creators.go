package tilebundle

import "context"

type JobGenerator interface {
	CreateWorker() (func(id int, jobs chan *TileRequest, results chan *TileResponse), error)
	CreateJobs(ctx context.Context, jobs chan *TileRequest) error
}
