package panel

import (
	"strconv"

	"github.com/idcstack/idc-control-plane/internal/model"
)

const StatusRunning = "running"

type InstanceConfig struct {
	Nickname    string `json:"nickname"`
	Port        int    `json:"port"`
	MaxMemoryMB int    `json:"maxMemory"`
}

type ProcessInfo struct {
	MemoryMB    int     `json:"memory"`
	CPUPercent  float64 `json:"cpu"`
	DiskPercent float64 `json:"disk"`
}

type Instance struct {
	UUID    string         `json:"uuid"`
	Status  string         `json:"status"`
	Config  InstanceConfig `json:"config"`
	Process ProcessInfo    `json:"processInfo"`
}

// Mirror converts the panel view into the row kept in panel_instances.
func (i Instance) Mirror() model.ManagedInstance {
	return model.ManagedInstance{
		UUID:        i.UUID,
		Nickname:    i.Config.Nickname,
		Status:      i.Status,
		Port:        i.Config.Port,
		MaxMemoryMB: i.Config.MaxMemoryMB,
		MemoryMB:    i.Process.MemoryMB,
		CPUPercent:  i.Process.CPUPercent,
		DiskPercent: i.Process.DiskPercent,
	}
}

type User struct {
	UUID       string `json:"uuid"`
	UserName   string `json:"userName"`
	Permission int    `json:"permission"`
}

func (u User) Mirror() model.PanelUser {
	return model.PanelUser{
		PanelUserID: u.UUID,
		Username:    u.UserName,
		Permission:  strconv.Itoa(u.Permission),
	}
}

type CreateUserInput struct {
	UserName   string `json:"userName"`
	Password   string `json:"password"`
	Permission int    `json:"permission"`
}

type LogLine struct {
	Time string `json:"time"`
	Text string `json:"text"`
}

type FileEntry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"isDir"`
	Size  int64  `json:"size,omitempty"`
}

type Backup struct {
	FileName string `json:"fileName"`
	Size     int64  `json:"size"`
	Time     string `json:"time"`
}

type Operation string

const (
	OpStart   Operation = "start"
	OpStop    Operation = "stop"
	OpRestart Operation = "restart"
)

func (o Operation) Valid() bool {
	switch o {
	case OpStart, OpStop, OpRestart:
		return true
	}
	return false
}

type BatchResult struct {
	InstanceID string `json:"instanceId"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
	Result     any    `json:"result,omitempty"`
}
