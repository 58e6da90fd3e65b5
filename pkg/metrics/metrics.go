package metrics

import (
	"github.com/loopholelabs/antfs/pkg/ant/link"
	"github.com/loopholelabs/antfs/pkg/antfs/manager"
)

type AntMetrics interface {
	Shutdown()
	RemoveAllID(id string)

	AddEngine(id string, name string, e *link.Engine)
	RemoveEngine(id string, name string)

	AddManager(id string, name string, m *manager.Manager)
	RemoveManager(id string, name string)
}
