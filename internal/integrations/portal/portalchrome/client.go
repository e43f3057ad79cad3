package portalchrome

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/BearBump/DeedBox/internal/integrations/portal"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/pkg/errors"
)

// Selectors of the portal search form. UI-контракт поведенческий: если
// вёрстка портала меняется, эти ожидания начинают падать с
// element_not_found, и оператор получает алерт.
const (
	selSearchForm  = `#searchForm`
	selTabParcel   = `#tab-parcel`
	selTabAddress  = `#tab-address`
	selBlock       = `input[name="block"]`
	selParcel      = `input[name="parcel"]`
	selSubparcel   = `input[name="subparcel"]`
	selCity        = `input[name="city"]`
	selStreet      = `input[name="street"]`
	selHouseNo     = `input[name="houseNo"]`
	selServiceType = `#serviceType`
	selGenerate    = `#generateBtn`
)

// readyStateJS reports the post-submit page state: the portal either renders
// the extract container or an inline rejection banner.
const readyStateJS = `(() => {
  const err = document.querySelector('#validation-error, .error-message');
  if (err && err.textContent.trim()) return 'error:' + err.textContent.trim();
  if (document.querySelector('#extract-ready')) return 'ready';
  return '';
})()`

type Client struct {
	baseURL      string
	headless     bool
	navTimeout   time.Duration
	readyTimeout time.Duration
}

func New(baseURL string, headless bool, navTimeout, readyTimeout time.Duration) *Client {
	if navTimeout <= 0 {
		navTimeout = 20 * time.Second
	}
	if readyTimeout <= 0 {
		readyTimeout = 90 * time.Second
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		headless:     headless,
		navTimeout:   navTimeout,
		readyTimeout: readyTimeout,
	}
}

// FetchDocument гоняет одну изолированную browser-сессию по порталу:
// навигация -> режим поиска -> тип услуги -> генерация -> PDF.
// Сессии никогда не переиспользуются между заказами.
func (c *Client) FetchDocument(ctx context.Context, req portal.DocumentRequest) ([]byte, error) {
	label, ok := portal.ServiceLabels[req.ServiceType]
	if !ok {
		return nil, portal.NewError(portal.FailureValidationRejected,
			fmt.Sprintf("no portal label for service type %q", req.ServiceType), nil)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", c.headless),
		chromedp.Flag("disable-gpu", true),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	// Освобождаем браузер на любом выходе: успех, ошибка, таймаут.
	defer cancelBrowser()

	if err := c.runStage(browserCtx, c.navTimeout,
		chromedp.Navigate(c.baseURL+"/search"),
		chromedp.WaitVisible(selSearchForm, chromedp.ByQuery),
	); err != nil {
		return nil, classify(err, portal.FailureElementNotFound, "portal search form")
	}

	if err := c.runStage(browserCtx, c.navTimeout, c.fillSearch(req)...); err != nil {
		return nil, classify(err, portal.FailureElementNotFound, "search inputs")
	}

	if err := c.selectService(browserCtx, label); err != nil {
		return nil, err
	}

	if err := c.runStage(browserCtx, c.navTimeout, chromedp.Click(selGenerate, chromedp.ByQuery)); err != nil {
		return nil, classify(err, portal.FailureElementNotFound, "generate button")
	}

	if err := c.awaitReady(browserCtx); err != nil {
		return nil, err
	}

	var buf []byte
	err := c.runStage(browserCtx, c.navTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		b, _, err := page.PrintToPDF().WithPrintBackground(true).Do(ctx)
		if err != nil {
			return err
		}
		buf = b
		return nil
	}))
	if err != nil {
		return nil, classify(err, portal.FailureSessionError, "render pdf")
	}
	return buf, nil
}

func (c *Client) fillSearch(req portal.DocumentRequest) []chromedp.Action {
	if req.Search.ByParcel() {
		actions := []chromedp.Action{
			chromedp.Click(selTabParcel, chromedp.ByQuery),
			chromedp.WaitVisible(selBlock, chromedp.ByQuery),
			chromedp.SendKeys(selBlock, req.Search.Block, chromedp.ByQuery),
			chromedp.SendKeys(selParcel, req.Search.Parcel, chromedp.ByQuery),
		}
		if req.Search.Subparcel != "" {
			actions = append(actions, chromedp.SendKeys(selSubparcel, req.Search.Subparcel, chromedp.ByQuery))
		}
		return actions
	}
	return []chromedp.Action{
		chromedp.Click(selTabAddress, chromedp.ByQuery),
		chromedp.WaitVisible(selCity, chromedp.ByQuery),
		chromedp.SendKeys(selCity, req.Search.City, chromedp.ByQuery),
		chromedp.SendKeys(selStreet, req.Search.Street, chromedp.ByQuery),
		chromedp.SendKeys(selHouseNo, req.Search.HouseNo, chromedp.ByQuery),
	}
}

// selectService выбирает опцию по видимой метке, как это сделал бы клерк.
func (c *Client) selectService(browserCtx context.Context, label string) error {
	js := fmt.Sprintf(`(() => {
  const sel = document.querySelector(%q);
  if (!sel) return 'no-select';
  for (const o of sel.options) {
    if (o.textContent.trim() === %q) {
      sel.value = o.value;
      sel.dispatchEvent(new Event('change', {bubbles: true}));
      return 'ok';
    }
  }
  return 'no-option';
})()`, selServiceType, label)

	var res string
	if err := c.runStage(browserCtx, c.navTimeout, chromedp.Evaluate(js, &res)); err != nil {
		return classify(err, portal.FailureSessionError, "select service")
	}
	switch res {
	case "ok":
		return nil
	case "no-select":
		return portal.NewError(portal.FailureElementNotFound, "service select not present", nil)
	default:
		return portal.NewError(portal.FailureValidationRejected,
			fmt.Sprintf("portal does not offer option %q", label), nil)
	}
}

// awaitReady ждёт готовности выписки, ограниченно readyTimeout. Портал не
// даёт надёжного сигнала завершения, поэтому опрашиваем состояние страницы.
func (c *Client) awaitReady(browserCtx context.Context) error {
	sctx, cancel := context.WithTimeout(browserCtx, c.readyTimeout)
	defer cancel()

	err := chromedp.Run(sctx, chromedp.ActionFunc(func(ctx context.Context) error {
		t := time.NewTicker(500 * time.Millisecond)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
			}

			var state string
			if err := chromedp.Evaluate(readyStateJS, &state).Do(ctx); err != nil {
				return err
			}
			if state == "ready" {
				return nil
			}
			if strings.HasPrefix(state, "error:") {
				return portal.NewError(portal.FailureValidationRejected,
					strings.TrimPrefix(state, "error:"), nil)
			}
		}
	}))
	if err != nil {
		return classify(err, portal.FailureTimeout, "extract readiness")
	}
	return nil
}

func (c *Client) runStage(browserCtx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	sctx, cancel := context.WithTimeout(browserCtx, timeout)
	defer cancel()
	return chromedp.Run(sctx, actions...)
}

// classify: уже классифицированные ошибки проходят как есть, дедлайны стадий
// получают код стадии, остальное — сбой сессии.
func classify(err error, deadlineCode portal.FailureCode, stage string) error {
	var pe *portal.Error
	if errors.As(err, &pe) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return portal.NewError(deadlineCode, stage, err)
	}
	return portal.NewError(portal.FailureSessionError, stage, err)
}
