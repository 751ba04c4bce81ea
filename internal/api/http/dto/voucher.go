package dto

import "github.com/Butterfly-Student/MikroBill-API/internal/voucher"

type CreateVoucherRequest struct {
	Code      string         `json:"code" binding:"omitempty,max=64"`
	Policy    voucher.Policy `json:"policy"`
	ProfileID int64          `json:"profile_id" binding:"omitempty,min=1"`
	Server    string         `json:"server"`
	Comment   string         `json:"comment"`
	Validity  string         `json:"validity"`
}

type CreateBatchRequest struct {
	Name      string         `json:"name" binding:"required,max=255"`
	Quantity  int            `json:"quantity" binding:"required,min=1,max=1000"`
	Policy    voucher.Policy `json:"policy"`
	ProfileID int64          `json:"profile_id" binding:"omitempty,min=1"`
	Server    string         `json:"server"`
	Comment   string         `json:"comment"`
	Validity  string         `json:"validity"`
}

type VoucherLoginRequest struct {
	Username string `json:"username" binding:"required"`
}

type VoucherLogoutRequest struct {
	Username      string `json:"username" binding:"required"`
	BytesIn       int64  `json:"bytes_in" binding:"min=0"`
	BytesOut      int64  `json:"bytes_out" binding:"min=0"`
	UptimeSeconds int64  `json:"uptime_seconds" binding:"min=0"`
}

type ListVouchersResponse struct {
	Vouchers []*voucher.Voucher `json:"vouchers"`
	Count    int                `json:"count"`
}
