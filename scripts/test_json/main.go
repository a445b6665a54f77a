// Round-trips one journal record through its JSON encoding. Handy when
// touching the storage schema: it prints the exact document written to
// disk and checks nothing is lost on the way back.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/movetrader/movebot/internal/models"
	"github.com/movetrader/movebot/internal/storage"
)

func main() {
	rec := storage.NewRecord(models.TradeResult{
		ExecutionID:     "json-check-0001",
		Success:         true,
		Symbol:          "BTC-MOVE-090126",
		ContractID:      27001,
		Direction:       models.Long,
		EntryOrderID:    "551",
		FillPrice:       980,
		StopLossOrderID: "552",
		SLTrigger:       490,
		SLLimit:         441,
		FinalState:      models.StateDone,
		ExecutedAt:      time.Now().UTC(),
	})
	fmt.Printf("Record %s starts as %q\n\n", rec.ExecutionID, rec.Status)

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		fmt.Printf("Error marshaling open record: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("On-disk form while open:\n%s\n\n", data)

	// Close it the way the monitor does and round-trip again.
	rec.Status = storage.StatusClosed
	rec.ClosedAt = time.Now().UTC()
	rec.ExitPrice = 490
	rec.PnL = -490
	rec.Note = "stop loss filled"

	data, err = json.Marshal(rec)
	if err != nil {
		fmt.Printf("Error marshaling closed record: %v\n", err)
		os.Exit(1)
	}

	var back storage.Record
	if err := json.Unmarshal(data, &back); err != nil {
		fmt.Printf("Error unmarshaling: %v\n", err)
		os.Exit(1)
	}

	problems := 0
	check := func(field string, ok bool) {
		if !ok {
			fmt.Printf("LOST: %s did not survive the round trip\n", field)
			problems++
		}
	}
	check("status", back.Status == storage.StatusClosed)
	check("closed_at", !back.ClosedAt.IsZero())
	check("exit_price", back.ExitPrice == rec.ExitPrice)
	check("pnl", back.PnL == rec.PnL)
	check("note", back.Note == rec.Note)
	check("execution_id", back.ExecutionID == rec.ExecutionID)
	check("direction", back.Direction == models.Long)
	check("final_state", back.FinalState == models.StateDone)
	check("stop_loss_order_id", back.StopLossOrderID == rec.StopLossOrderID)

	if problems > 0 {
		os.Exit(1)
	}
	fmt.Println("Round trip OK: all journal fields survived")
}
