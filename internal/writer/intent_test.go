package writer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attendanced/attendanced/internal/models"
)

func TestEmployeeSeenIntentConstructor(t *testing.T) {
	ts := time.Now()
	i := EmployeeSeen(7, 3, ts, 0.91)

	require.Equal(t, KindEmployeeSeen, i.Kind)
	require.NotNil(t, i.EmployeeSeen, "expected EmployeeSeen payload to be set")
	assert.Equal(t, 7, i.EmployeeSeen.EmployeeID)
	assert.Equal(t, 3, i.EmployeeSeen.CameraID)
	assert.Equal(t, 0.91, i.EmployeeSeen.Similarity)
	assert.Nil(t, i.EmployeeTimeout, "expected only EmployeeSeen payload to be populated")
	assert.Nil(t, i.AlertEmit, "expected only EmployeeSeen payload to be populated")
}

func TestEmployeeTimeoutIntentConstructor(t *testing.T) {
	ts := time.Now()
	i := EmployeeTimeout(9, ts)

	require.Equal(t, KindEmployeeTimeout, i.Kind)
	require.NotNil(t, i.EmployeeTimeout)
	assert.Equal(t, 9, i.EmployeeTimeout.EmployeeID)
	assert.Nil(t, i.EmployeeSeen, "expected only EmployeeTimeout payload to be populated")
	assert.Nil(t, i.AlertEmit, "expected only EmployeeTimeout payload to be populated")
}

func TestAlertEmitIntentConstructor(t *testing.T) {
	ts := time.Now()
	emp, cam := 1, 2
	snap := models.ScheduleSnapshot{WorkHours: "08:00-17:00", LunchBreak: "12:00-13:00"}
	i := AlertEmit(&emp, &cam, ts, models.AlertEnter, "entered", snap)

	require.Equal(t, KindAlertEmit, i.Kind)
	require.NotNil(t, i.AlertEmit)
	require.NotNil(t, i.AlertEmit.EmployeeID)
	require.NotNil(t, i.AlertEmit.CameraID)
	assert.Equal(t, 1, *i.AlertEmit.EmployeeID)
	assert.Equal(t, 2, *i.AlertEmit.CameraID)
	assert.Equal(t, models.AlertEnter, i.AlertEmit.AlertType)
	assert.Equal(t, "08:00-17:00", i.AlertEmit.Schedule.WorkHours)
}
