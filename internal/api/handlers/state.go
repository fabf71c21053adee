package handlers

import (
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/attendanced/attendanced/internal/storage"
)

type StateHandler struct {
	db *storage.PostgresStore
}

func NewStateHandler(db *storage.PostgresStore) *StateHandler {
	return &StateHandler{db: db}
}

// stateItem mirrors spec.md §6's get_state items[i].
type stateItem struct {
	EmployeeID    int     `json:"employee_id"`
	Name          string  `json:"name"`
	Department    string  `json:"department"`
	Status        string  `json:"status"`
	LastSeenTS    *string `json:"last_seen_ts"`
	SecondsSince  *int64  `json:"seconds_since"`
	IsPresent     bool    `json:"is_present"`
	CameraID      *int    `json:"camera_id"`
	CameraName    *string `json:"camera_name"`
}

// Get implements spec.md §6's get_state(): { running, present_count,
// off_count, total, active_total, items[] }, items sorted by
// (not is_present, seconds_since ascending, name).
func (h *StateHandler) Get(c *gin.Context) {
	ctx := c.Request.Context()

	views, err := h.db.ListPresenceWithEmployee(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	activeEmployees, err := h.db.ListActiveEmployees(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	byID := make(map[int]int, len(views))
	for i, v := range views {
		byID[v.EmployeeID] = i
	}

	now := time.Now()
	items := make([]stateItem, 0, len(activeEmployees))
	presentCount, offCount := 0, 0

	for _, emp := range activeEmployees {
		item := stateItem{
			EmployeeID: emp.ID,
			Name:       emp.Name,
			Department: emp.Department,
			Status:     "off",
		}
		if idx, ok := byID[emp.ID]; ok {
			v := views[idx]
			item.Status = string(v.Status)
			item.IsPresent = string(v.Status) == "available"
			item.CameraID = v.LastCameraID
			item.CameraName = v.CameraName
			if v.LastSeenTS != nil {
				s := v.LastSeenTS.UTC().Format(time.RFC3339)
				item.LastSeenTS = &s
				secs := int64(now.Sub(*v.LastSeenTS).Seconds())
				item.SecondsSince = &secs
			}
		}
		if item.IsPresent {
			presentCount++
		} else {
			offCount++
		}
		items = append(items, item)
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].IsPresent != items[j].IsPresent {
			return items[i].IsPresent
		}
		si, sj := maxInt64(items[i].SecondsSince), maxInt64(items[j].SecondsSince)
		if si != sj {
			return si < sj
		}
		return items[i].Name < items[j].Name
	})

	c.JSON(http.StatusOK, gin.H{
		"running":       true,
		"present_count": presentCount,
		"off_count":     offCount,
		"total":         len(items),
		"active_total":  len(activeEmployees),
		"items":         items,
	})
}

func maxInt64(p *int64) int64 {
	if p == nil {
		return int64(^uint64(0) >> 1)
	}
	return *p
}
