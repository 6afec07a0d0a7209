package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/J9-tops/secure-wallet-api/internal/auth"
)

// RegisterRoutes wires the public surface. Wallet routes take either a session
// JWT or an API key with the right permission; key management is JWT only and
// the webhook authenticates by signature alone.
func RegisterRoutes(r *gin.Engine, resolver *auth.Resolver, authH *AuthHandler, walletH *WalletHandler, keysH *APIKeyHandler, webhookH *WebhookHandler) {
	r.GET("/auth/google", authH.Login)
	r.GET("/auth/google/callback", authH.Callback)

	r.POST("/webhook/paystack", webhookH.Handle)

	wallet := r.Group("/wallet", resolver.Middleware())
	wallet.GET("/balance", auth.RequirePermission("read"), walletH.Balance)
	wallet.GET("/transactions", auth.RequirePermission("read"), walletH.Transactions)
	wallet.POST("/deposit", auth.RequirePermission("deposit"), walletH.Deposit)
	wallet.GET("/deposit/:reference/status", auth.RequirePermission("read"), walletH.DepositStatus)
	wallet.POST("/transfer", auth.RequirePermission("transfer"), walletH.Transfer)

	keys := r.Group("/api-keys", resolver.Middleware(), auth.RequireSession())
	keys.POST("", keysH.Create)
	keys.GET("", keysH.List)
	keys.POST("/:id/rollover", keysH.Rollover)
	keys.DELETE("/:id", keysH.Revoke)
}
