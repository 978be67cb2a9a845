package enums

// UserRole is carried in access tokens.
type UserRole string

const (
	UserRoleMember UserRole = "member"
	UserRoleAdmin  UserRole = "admin"
)

func (r UserRole) IsValid() bool {
	return member(r, UserRoleMember, UserRoleAdmin)
}

// OrderRole scopes order listings to one side of the trade.
type OrderRole string

const (
	OrderRoleBuyer  OrderRole = "buyer"
	OrderRoleSeller OrderRole = "seller"
)

func ParseOrderRole(value string) (OrderRole, error) {
	return parse("order role", value, OrderRoleBuyer, OrderRoleSeller)
}
