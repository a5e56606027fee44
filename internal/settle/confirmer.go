package settle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/efreitasn/tokex/internal/domain"
)

// LocalConfirmer is the default Confirmer for deployments without an
// external blockchain client: it confirms immediately with a
// deterministic pseudo-hash derived from the trade. Cryptographic
// signing of on-chain transactions is delegated to an external client
// in production wiring.
type LocalConfirmer struct{}

// Confirm returns a deterministic hash for the trade.
func (LocalConfirmer) Confirm(ctx context.Context, trade *domain.Trade) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(trade.TradeID + "|" + trade.BuyOrderID + "|" + trade.SellOrderID))
	return "0x" + hex.EncodeToString(sum[:]), nil
}
