package usercontext

// Shared Locals keys used across controllers and middlewares
const (
	KeyShopContext   = "SHOP_CONTEXT"
	KeyShopID        = "shop_id"
	KeyShopDomain    = "shop"
	KeyIsAdmin       = "isAdmin"
	KeyFromProtected = "from_protected"
)
