package di

import (
	"github.com/Cix-16/opencti/application/commands/bus"
	"github.com/Cix-16/opencti/application/ports"
	querybus "github.com/Cix-16/opencti/application/queries/bus"
	"github.com/Cix-16/opencti/application/services"
	"github.com/Cix-16/opencti/infrastructure/config"
	membus "github.com/Cix-16/opencti/infrastructure/messaging/memory"
	"github.com/Cix-16/opencti/interfaces/http/rest"
	"github.com/Cix-16/opencti/pkg/observability"

	"go.uber.org/zap"
)

// Container holds all application dependencies
type Container struct {
	Config     *config.Config
	Logger     *zap.Logger
	Repository ports.EntityRepository
	Services   *services.ServiceRegistry
	Workspaces *services.WorkspaceService
	CommandBus *bus.CommandBus
	QueryBus   *querybus.QueryBus
	PubSub     *membus.PubSub
	Metrics    *observability.Metrics
	Router     *rest.Router
}
