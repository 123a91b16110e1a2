package users

// Identity models a known user profile within a tenant.
type Identity struct {
	UserID           string `gorm:"column:user_id;primaryKey;size:190;not null"`
	TenantID         string `gorm:"column:tenant_id;size:190;not null;index:idx_identities_tenant"`
	Email            string `gorm:"column:email;size:320;not null;default:''"`
	DisplayName      string `gorm:"column:display_name;size:190;not null;default:''"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Identity) TableName() string {
	return "user_identities"
}
