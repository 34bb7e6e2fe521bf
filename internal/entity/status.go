package entity

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderPreparing OrderStatus = "preparing"
	OrderReady     OrderStatus = "ready"
	OrderCompleted OrderStatus = "completed"
	OrderCancelled OrderStatus = "cancelled"
)

// OrderStatuses lists every order status in lifecycle order.
var OrderStatuses = []OrderStatus{OrderPending, OrderPreparing, OrderReady, OrderCompleted, OrderCancelled}

// ActiveOrderStatuses are the statuses that keep a table occupied.
var ActiveOrderStatuses = []OrderStatus{OrderPending, OrderPreparing, OrderReady}

// Valid reports whether s is a known status.
func (s OrderStatus) Valid() bool {
	for _, known := range OrderStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether no further changes are allowed.
func (s OrderStatus) Terminal() bool {
	return s == OrderCompleted || s == OrderCancelled
}

// Active reports whether an order in this status occupies its table.
func (s OrderStatus) Active() bool {
	return s.Valid() && !s.Terminal()
}

// TableStatus is the occupancy state of a dining table.
type TableStatus string

const (
	TableEmpty       TableStatus = "empty"
	TableOccupied    TableStatus = "occupied"
	TableReserved    TableStatus = "reserved"
	TableMaintenance TableStatus = "maintenance"
)

// TableStatuses lists every table status.
var TableStatuses = []TableStatus{TableEmpty, TableOccupied, TableReserved, TableMaintenance}

// Valid reports whether s is a known table status.
func (s TableStatus) Valid() bool {
	for _, known := range TableStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// AcceptsOrders reports whether a new order may be opened on the table.
func (s TableStatus) AcceptsOrders() bool {
	return s == TableEmpty || s == TableReserved
}

// Role is a staff permission level.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleStaff Role = "staff"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleStaff
}
