package vera_test

import (
	"testing"

	"vera-home/internal/infra/vera"
	"vera-home/internal/infra/vera/veratest"
)

const (
	switchID          = veratest.SwitchID
	dimmerID          = veratest.DimmerID
	lockID            = veratest.LockID
	doorSensorID      = veratest.DoorSensorID
	tempSensorID      = veratest.TempSensorID
	curtainID         = veratest.CurtainID
	thermostatID      = veratest.ThermostatID
	sceneControllerID = veratest.SceneControllerID
	sdataOnlyID       = veratest.SDataOnlyID
	garageID          = veratest.GarageID
	sceneID           = veratest.SceneID
)

type fakeVera = veratest.Server

func newFakeVera(t *testing.T) *fakeVera { return veratest.NewServer(t) }

func newTestClient(t *testing.T, f *fakeVera) *vera.Client { return veratest.NewClient(t, f) }

func newTestController(t *testing.T, f *fakeVera, opts ...vera.Option) *vera.Controller {
	return veratest.NewController(t, f, opts...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	veratest.WaitFor(t, what, cond)
}
