package scanning

import "strings"

// receiptScanPrompt is shared by every LLM provider
const receiptScanPrompt = `You are reading a photo of a receipt or invoice that a staff member submitted as an expense. Read all text in the image and extract:

1. **Vendor**: the merchant, store or business name, usually the largest text at the top. Examples: "Home Depot", "Ace Hardware", "Target".

2. **Date**: the transaction, purchase or invoice date, in ISO 8601 format (YYYY-MM-DD).

3. **Amount**: the final total, grand total or amount due, usually near the bottom. Only the numeric value (42.75 for $42.75).

Return ONLY JSON in exactly this shape:
{
  "vendor": "Vendor Name",
  "date": "YYYY-MM-DD",
  "amount": 0.00
}

Rules:
- Use null for any field you cannot find
- amount must be a number, not a string
- No text before or after the JSON and no markdown code blocks`

// systemPrompt is sent as the system message by chat-style providers
const systemPrompt = "You are an expert at reading receipts and invoices and extracting accurate information from them."

// stripCodeFence removes surrounding markdown code fences
func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
