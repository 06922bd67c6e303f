package model

import "time"

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderPaid      OrderStatus = "paid"
	OrderCancelled OrderStatus = "cancelled"
	OrderCompleted OrderStatus = "completed"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// ResourceConfiguration is the per-order hardware selection. Units: cores, GB, GB, Mbps, ports.
type ResourceConfiguration struct {
	CPU       int `json:"cpu"`
	Memory    int `json:"memory"`
	Disk      int `json:"disk"`
	Bandwidth int `json:"bandwidth"`
	Ports     int `json:"ports"`
}

type CustomerInfo struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email"`
}

type Order struct {
	OrderID          string                `json:"orderId"`
	UserID           string                `json:"userId"`
	Username         string                `json:"userUsername,omitempty"`
	ServerTemplateID int                   `json:"serverId"`
	Configuration    ResourceConfiguration `json:"configuration"`
	TermMonths       int                   `json:"months"`
	MonthlyCost      float64               `json:"monthlyCost"`
	TotalCost        float64               `json:"totalCost"`
	Customer         CustomerInfo          `json:"customerInfo"`
	Status           OrderStatus           `json:"status"`
	CreatedAt        time.Time             `json:"createdAt"`
	UpdatedAt        time.Time             `json:"updatedAt"`
}

// ManagedInstance is the local, non-authoritative mirror of a panel instance.
type ManagedInstance struct {
	UUID         string    `json:"instanceUuid"`
	Nickname     string    `json:"nickname"`
	Status       string    `json:"status"`
	Port         int       `json:"port"`
	MaxMemoryMB  int       `json:"maxMemory"`
	MemoryMB     int       `json:"currentMemory"`
	CPUPercent   float64   `json:"cpuUsage"`
	DiskPercent  float64   `json:"diskUsage"`
	LastSyncedAt time.Time `json:"lastSyncedAt"`
}

type InstanceBinding struct {
	UserID       string    `json:"userId"`
	InstanceUUID string    `json:"instanceUuid"`
	Permissions  []string  `json:"permissions"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// BoundInstance is a binding joined with the mirror; mirror fields are zero when unsynced.
type BoundInstance struct {
	InstanceBinding
	Instance *ManagedInstance `json:"instance,omitempty"`
}

// BoundUser is a binding joined with the owning account.
type BoundUser struct {
	InstanceBinding
	Username string `json:"username"`
}

type PanelUser struct {
	PanelUserID string `json:"panelUserId"`
	Username    string `json:"username"`
	Permission  string `json:"permission"`
}

// User is a storefront account. The auth service owns the row.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"createdAt"`
}

type PaymentMethod string

const (
	PaymentWechat PaymentMethod = "wechat"
	PaymentAlipay PaymentMethod = "alipay"
)

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

// Payment is one gateway charge against an order. Amount is copied from the
// order total when the charge is created.
type Payment struct {
	PaymentID     string        `json:"paymentId"`
	OrderID       string        `json:"orderId"`
	UserID        string        `json:"userId"`
	Method        PaymentMethod `json:"paymentMethod"`
	Amount        float64       `json:"amount"`
	Description   string        `json:"description"`
	Status        PaymentStatus `json:"status"`
	PayURL        string        `json:"payUrl,omitempty"`
	TransactionID string        `json:"transactionId,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}
