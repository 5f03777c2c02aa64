package camt

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Lenient camt document mapping. Field tags carry no namespace so the
// same structs decode every supported camt minor version.

type document struct {
	BkToCstmrStmt        *msgBody `xml:"BkToCstmrStmt"`
	BkToCstmrAcctRpt     *msgBody `xml:"BkToCstmrAcctRpt"`
	BkToCstmrDbtCdtNtfct *msgBody `xml:"BkToCstmrDbtCdtNtfctn"`
}

type msgBody struct {
	Stmt   []stmtNode `xml:"Stmt"`
	Rpt    []stmtNode `xml:"Rpt"`
	Ntfctn []stmtNode `xml:"Ntfctn"`
}

func (d document) statementNodes() []stmtNode {
	var body *msgBody
	switch {
	case d.BkToCstmrStmt != nil:
		body = d.BkToCstmrStmt
	case d.BkToCstmrAcctRpt != nil:
		body = d.BkToCstmrAcctRpt
	case d.BkToCstmrDbtCdtNtfct != nil:
		body = d.BkToCstmrDbtCdtNtfct
	default:
		return nil
	}
	nodes := append([]stmtNode{}, body.Stmt...)
	nodes = append(nodes, body.Rpt...)
	return append(nodes, body.Ntfctn...)
}

type stmtNode struct {
	ID     string    `xml:"Id"`
	FrToDt frToDt    `xml:"FrToDt"`
	Acct   acct      `xml:"Acct"`
	Bal    []balance `xml:"Bal"`
	Ntry   []ntry    `xml:"Ntry"`
}

type frToDt struct {
	FrDtTm string `xml:"FrDtTm"`
	ToDtTm string `xml:"ToDtTm"`
}

type acct struct {
	Id  acctID `xml:"Id"`
	Ccy string `xml:"Ccy"`
}

type acctID struct {
	IBAN string `xml:"IBAN"`
	Othr struct {
		Id string `xml:"Id"`
	} `xml:"Othr"`
}

// Number returns the IBAN when present, the proprietary id otherwise.
func (a acctID) Number() string {
	if a.IBAN != "" {
		return strings.TrimSpace(a.IBAN)
	}
	return strings.TrimSpace(a.Othr.Id)
}

type balance struct {
	Tp struct {
		CdOrPrtry struct {
			Cd string `xml:"Cd"`
		} `xml:"CdOrPrtry"`
	} `xml:"Tp"`
	Amt       amt     `xml:"Amt"`
	CdtDbtInd string  `xml:"CdtDbtInd"`
	Dt        dateVal `xml:"Dt"`
}

func (b balance) signedAmount() (decimal.Decimal, error) {
	return signedAmount(b.Amt.Text, b.CdtDbtInd, "")
}

type amt struct {
	Text string `xml:",chardata"`
	Ccy  string `xml:"Ccy,attr"`
}

type dateVal struct {
	Dt   string `xml:"Dt"`
	DtTm string `xml:"DtTm"`
}

func (d dateVal) value() string {
	if d.Dt != "" {
		return d.Dt
	}
	return d.DtTm
}

type ntry struct {
	NtryRef      string   `xml:"NtryRef"`
	Amt          amt      `xml:"Amt"`
	CdtDbtInd    string   `xml:"CdtDbtInd"`
	BookgDt      dateVal  `xml:"BookgDt"`
	ValDt        dateVal  `xml:"ValDt"`
	AcctSvcrRef  string   `xml:"AcctSvcrRef"`
	AddtlNtryInf string   `xml:"AddtlNtryInf"`
	NtryDtls     ntryDtls `xml:"NtryDtls"`
}

func (n ntry) date() (time.Time, error) {
	if v := n.ValDt.value(); v != "" {
		return parseISODate(v)
	}
	return parseISODate(n.BookgDt.value())
}

type ntryDtls struct {
	TxDtls []txDtls `xml:"TxDtls"`
}

type txDtls struct {
	Refs struct {
		AcctSvcrRef string `xml:"AcctSvcrRef"`
		EndToEndId  string `xml:"EndToEndId"`
		TxId        string `xml:"TxId"`
	} `xml:"Refs"`
	Amt       amt    `xml:"Amt"`
	CdtDbtInd string `xml:"CdtDbtInd"`
	AmtDtls   struct {
		TxAmt struct {
			Amt amt `xml:"Amt"`
		} `xml:"TxAmt"`
	} `xml:"AmtDtls"`
	RltdPties struct {
		Dbtr     party  `xml:"Dbtr"`
		DbtrAcct acct   `xml:"DbtrAcct"`
		Cdtr     party  `xml:"Cdtr"`
		CdtrAcct acct   `xml:"CdtrAcct"`
	} `xml:"RltdPties"`
	RmtInf struct {
		Ustrd []string `xml:"Ustrd"`
	} `xml:"RmtInf"`
	AddtlTxInf string `xml:"AddtlTxInf"`
}

// amount picks the transaction-level amount, falling back to the parent
// entry amount when the detail node does not carry its own.
func (t txDtls) amount(parent ntry) (text, ccy string) {
	if strings.TrimSpace(t.Amt.Text) != "" {
		return t.Amt.Text, t.Amt.Ccy
	}
	if strings.TrimSpace(t.AmtDtls.TxAmt.Amt.Text) != "" {
		return t.AmtDtls.TxAmt.Amt.Text, t.AmtDtls.TxAmt.Amt.Ccy
	}
	return parent.Amt.Text, parent.Amt.Ccy
}

// party tolerates both the flat (<= 001.07) and Party40Choice (001.08+)
// shapes of related-party names.
type party struct {
	Nm  string `xml:"Nm"`
	Pty struct {
		Nm string `xml:"Nm"`
	} `xml:"Pty"`
}

func (p party) name() string {
	if p.Nm != "" {
		return strings.TrimSpace(p.Nm)
	}
	return strings.TrimSpace(p.Pty.Nm)
}
